package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"plain error", base, false},
		{"transient", Transient(base), true},
		{"permanent", Permanent(base), false},
		{"wrapped transient", fmt.Errorf("op failed: %w", Transient(base)), true},
		{"permanent wins over transient", Permanent(Transient(base)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestTransientPreservesCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := Transient(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should remain reachable")
	}
	if !errors.Is(err, ErrTransient) {
		t.Error("transient sentinel should be reachable")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
