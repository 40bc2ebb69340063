package app

import (
	"bytes"
	"strings"
	"testing"
)

// TestRun_ServeCommand_FailsWithoutDatabase はserveコマンドがDB接続を試み、
// 接続できない場合にエラーを返すことを検証する。
func TestRun_ServeCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("expected error for unreachable database")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %v, want database related error", err)
	}
}

// TestRun_DefaultCommand_IsServe はサブコマンド省略時にserveとして動作することを検証する。
func TestRun_DefaultCommand_IsServe(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{})
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %v, want database related error", err)
	}
}

// TestRun_MintCommand_FailsWithoutDatabase はsession mintもDB接続を必要とすることを検証する。
func TestRun_MintCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"session", "mint", "--user", "1"}); err == nil {
		t.Fatal("expected error for unreachable database")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "CACHE_URL", "COOKIE_SIGNING_KEY", "API_URL", "FRONTEND_URL"} {
		t.Setenv(key, "")
	}

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
	if !strings.Contains(err.Error(), "initialization failed") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Error("expected error for unknown command")
	}
}
