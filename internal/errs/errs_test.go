package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", base, ""},
		{"direct", E(Network, "ai.rewrite", "", base), Network},
		{"wrapped", fmt.Errorf("save post: %w", E(NotFound, "store.get", "post missing", nil)), NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(Network, "poll.submit", "vote rejected", errors.New("status 500"))
	if got := err.Error(); got != "poll.submit: NETWORK_ERROR: vote rejected: status 500" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
	if got := Validationf("", "instruction is required").Error(); got != "VALIDATION_ERROR: instruction is required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIs(t *testing.T) {
	err := Validationf("ai.rewrite", "selection is empty")
	if !Is(err, Validation) {
		t.Error("expected validation kind")
	}
	if Is(err, Concurrency) {
		t.Error("unexpected concurrency kind")
	}
	if Is(nil, Validation) {
		t.Error("nil must not match")
	}
}
