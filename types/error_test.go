package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	e := NewError(ErrUnknownTask, `unknown task "t9"`)
	if got := e.Error(); got != `[UNKNOWN_TASK] unknown task "t9"` {
		t.Errorf("unexpected format: %s", got)
	}

	cause := errors.New("connection refused")
	e = NewTransportError("publish task_exchange", cause)
	if got := e.Error(); got != "[TRANSPORT] publish task_exchange: connection refused" {
		t.Errorf("unexpected format: %s", got)
	}
	if !errors.Is(e, cause) {
		t.Error("cause should unwrap")
	}
}

func TestErrorCodeExtraction(t *testing.T) {
	t.Parallel()

	base := NewDuplicateVoteError("sec1", "approve_code_fix", "t1")
	wrapped := fmt.Errorf("vote loop: %w", base)

	if !IsErrorCode(wrapped, ErrDuplicateVote) {
		t.Error("code should survive wrapping")
	}
	if GetErrorCode(wrapped) != ErrDuplicateVote {
		t.Errorf("GetErrorCode = %q", GetErrorCode(wrapped))
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}

func TestRetryability(t *testing.T) {
	t.Parallel()

	if !IsRetryable(NewTransportError("broker down", nil)) {
		t.Error("transport errors are retryable")
	}
	if IsRetryable(NewValidationError("bad envelope")) {
		t.Error("validation errors are not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	cause := errors.New("EOF")
	e := WrapError(ErrStore, "load task", cause)
	if e.Code != ErrStore || !errors.Is(e, cause) {
		t.Errorf("unexpected wrap: %+v", e)
	}
	got, ok := AsError(fmt.Errorf("outer: %w", e))
	if !ok || got.Code != ErrStore {
		t.Error("AsError should find the structured error in the chain")
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithTraceID(WithUserID(WithRoles(
		t.Context(), []string{"operator"}), "u1"), "trace-1")

	if got, ok := TraceID(ctx); !ok || got != "trace-1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}
	if got, ok := UserID(ctx); !ok || got != "u1" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}
	if roles, ok := Roles(ctx); !ok || len(roles) != 1 || roles[0] != "operator" {
		t.Fatalf("Roles mismatch: %v %v", roles, ok)
	}
}
