package repository

import (
	"errors"
	"fmt"

	"github.com/hitoshi/identity/internal/model"
	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)

// storeError はドライバのエラーをドメインのエラー分類に変換する。
//   - 一意制約違反: model.ErrConflict
//   - 外部キー違反: model.ErrNotFound
//   - 構文・型などサーバーが返した上記以外のエラー: そのままラップ
//   - 接続断・タイムアウトなどドライバ外のエラー: model.ErrTransientStore
func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("failed to %s: %w (%s)", op, model.ErrConflict, pqErr.Constraint)
		case foreignKeyViolation:
			return fmt.Errorf("failed to %s: %w (%s)", op, model.ErrNotFound, pqErr.Constraint)
		}
		switch pqErr.Code.Class() {
		// connection_exception, operator_intervention, insufficient_resources
		case "08", "57", "53":
			return model.Transient("failed to "+op, err)
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return model.Transient("failed to "+op, err)
}
