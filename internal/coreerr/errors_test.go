package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_MessageWithAndWithoutCause(t *testing.T) {
	bare := New("store.Get", NotFound, nil)
	if got, want := bare.Error(), "store.Get: not_found"; got != want {
		t.Errorf("bare error: got %q, want %q", got, want)
	}

	wrapped := New("store.Get", TransientStoreError, errors.New("connection reset"))
	if got, want := wrapped.Error(), "store.Get: transient_store_error: connection reset"; got != want {
		t.Errorf("wrapped error: got %q, want %q", got, want)
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := New("vectorindex.Search", Timeout, cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through Unwrap to the cause")
	}
}

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := New("search.Run", CircuitOpen, nil)
	wrapped := fmt.Errorf("pipeline stage failed: %w", err)

	if !Is(wrapped, CircuitOpen) {
		t.Error("expected Is to find CircuitOpen through fmt.Errorf wrapping")
	}
	if Is(wrapped, NotFound) {
		t.Error("expected Is to report false for a non-matching kind")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), InvalidInput) {
		t.Error("expected Is to return false for an error that is not *Error")
	}
}

func TestInvalidOutcome_IsDistinctSentinel(t *testing.T) {
	err := New("outcomes.Record", InvalidInput, InvalidOutcome)
	if !errors.Is(err, InvalidOutcome) {
		t.Error("expected errors.Is to match the InvalidOutcome sentinel through Unwrap")
	}
}
