package model_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/signalnine/moralmachine/internal/model"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want model.FailoverReason
	}{
		{"context deadline exceeded", model.ReasonTimeout},
		{"429 Too Many Requests", model.ReasonRateLimit},
		{"rpc error: Resource exhausted", model.ReasonRateLimit},
		{"401 Unauthorized", model.ReasonAuth},
		{"insufficient_quota", model.ReasonBilling},
		{"response blocked by safety settings", model.ReasonContentFilter},
		{"model_not_found", model.ReasonModelUnavailable},
		{"502 bad gateway", model.ReasonServerError},
		{"something odd", model.ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := model.ClassifyError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("ClassifyError(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestProviderErrorWithStatus(t *testing.T) {
	tests := []struct {
		status    int
		want      model.FailoverReason
		retryable bool
	}{
		{http.StatusTooManyRequests, model.ReasonRateLimit, true},
		{http.StatusInternalServerError, model.ReasonServerError, true},
		{http.StatusServiceUnavailable, model.ReasonServerError, true},
		{http.StatusUnauthorized, model.ReasonAuth, false},
		{http.StatusBadRequest, model.ReasonInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := model.NewProviderError("openai", "gpt-4-0613", errors.New("boom")).WithStatus(tt.status)
			if err.Reason != tt.want {
				t.Errorf("reason = %s, want %s", err.Reason, tt.want)
			}
			wrapped := fmt.Errorf("prompt: %w", err)
			if model.IsRetryable(wrapped) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", !tt.retryable, tt.retryable)
			}
		})
	}
}

func TestIsRetryablePlainError(t *testing.T) {
	if model.IsRetryable(errors.New("429")) {
		t.Error("unclassified errors must not be retried")
	}
	if model.IsRetryable(model.ErrResponseBlocked) {
		t.Error("blocked responses must not be retried")
	}
}

func TestProviderErrorString(t *testing.T) {
	err := model.NewProviderError("anthropic", "claude-3-haiku-20240307", errors.New("overloaded")).
		WithStatus(529).WithCode("overloaded_error").WithRequestID("req_1")
	want := "[server_error] anthropic model=claude-3-haiku-20240307 status=529 code=overloaded_error request_id=req_1 overloaded"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestContentFilterIsBlocked(t *testing.T) {
	filtered := model.NewProviderError("openai", "gpt-4-0613", errors.New("bad request")).
		WithStatus(http.StatusBadRequest).WithCode("content_filter")
	if !errors.Is(fmt.Errorf("prompt: %w", filtered), model.ErrResponseBlocked) {
		t.Errorf("content filter error %v is not ErrResponseBlocked", filtered)
	}
	if model.IsRetryable(filtered) {
		t.Error("content filter error must not be retried")
	}
	invalid := model.NewProviderError("openai", "gpt-4-0613", errors.New("bad request")).WithStatus(http.StatusBadRequest)
	if errors.Is(invalid, model.ErrResponseBlocked) {
		t.Errorf("invalid request %v reported as blocked", invalid)
	}
}
