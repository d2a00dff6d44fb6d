package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindConfig, "load", "failed to load config",
				errors.New("file not found")),
			contains: []string{"[config:load]", "failed to load config", "file not found"},
		},
		{
			name:     "error without cause",
			err:      New(KindValidation, "validate", "unsupported URL scheme"),
			contains: []string{"[validation:validate]", "unsupported URL scheme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindFetch, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestWrap_KeepsInnermostKind(t *testing.T) {
	inner := New(KindFetch, "image.fetch", "image too large")
	outer := Wrap(KindAnalysis, "analyze", "analysis failed", fmt.Errorf("context: %w", inner))

	if outer.Kind != KindFetch {
		t.Fatalf("expected innermost kind fetch, got %s", outer.Kind)
	}
	if Wrap(KindConfig, "noop", "nil stays nil", nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindConfig, "test", "message"),
			kind:     KindConfig,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      fmt.Errorf("outer: %w", Wrap(KindDomain, "test", "message", errors.New("cause"))),
			kind:     KindDomain,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindDomain,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{New(KindValidation, "v", "m"), CodeInvalidURL},
		{New(KindFetch, "f", "m"), CodeFetchError},
		{New(KindAnalysis, "a", "m"), CodeProcessingError},
		{errors.New("untyped"), CodeProcessingError},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestReason(t *testing.T) {
	if got := Reason(Wrap(KindFetch, "op", "msg", errors.New("dial tcp: refused"))); got != "dial tcp: refused" {
		t.Errorf("unexpected reason %q", got)
	}
	if got := Reason(New(KindValidation, "op", "Missing host in URL")); got != "Missing host in URL" {
		t.Errorf("unexpected reason %q", got)
	}
	if got := Reason(nil); got != "" {
		t.Errorf("nil reason should be empty, got %q", got)
	}
}
