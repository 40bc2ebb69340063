package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/identity/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// ErrorStatus はエラーをHTTPステータスとAPIErrorに変換する。
// 該当する分類が無いエラーは500として扱う。
func ErrorStatus(err error) (int, *model.APIError) {
	var apiErr *model.APIError
	var validationErr *model.ValidationError

	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, model.NewInvalidRequestError(validationErr.Reason)
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized, model.NewUnauthenticatedError()
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, model.NewForbiddenError()
	case errors.Is(err, model.ErrUnknownDomain):
		return http.StatusMisdirectedRequest, model.NewUnknownDomainError()
	case errors.Is(err, model.ErrProviderUnavailable):
		return http.StatusNotFound, model.NewProviderUnavailableError()
	case errors.Is(err, model.ErrEventNotFound):
		return http.StatusNotFound, model.NewEventNotFoundError()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, model.NewNotFoundError("リソース")
	case errors.Is(err, model.ErrTransientStore):
		return http.StatusServiceUnavailable, model.NewTemporarilyUnavailableError()
	case errors.Is(err, model.ErrIdentityConflict):
		return http.StatusConflict, model.NewIdentityConflictError()
	case errors.Is(err, model.ErrLastIdentity):
		return http.StatusConflict, model.NewLastIdentityError()
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, model.NewConflictError("既に使用されています。")
	case errors.Is(err, model.ErrMalformedRedirect), errors.Is(err, model.ErrRedirectNotAllowed):
		return http.StatusBadRequest, model.NewInvalidRedirectError()
	case errors.Is(err, model.ErrMissingEmail):
		return http.StatusUnprocessableEntity, model.NewMissingEmailError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// WriteError はエラーを分類して統一フォーマットで書き込む。
// 500と503はログに記録し、不整合はerrorレベルで記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := ErrorStatus(err)

	switch {
	case errors.Is(err, model.ErrInvariantViolation):
		slog.Error("invariant violation",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	case status >= http.StatusInternalServerError:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	WriteErrorResponse(w, status, apiErr)
}
