package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrResponseBlocked means the backend returned no usable content,
	// typically because a safety filter intervened.
	ErrResponseBlocked = errors.New("response blocked")

	ErrUnknownModel      = errors.New("unknown model")
	ErrMissingCredential = errors.New("missing credential")
	ErrEmptySystemPrompt = errors.New("empty system prompt")
)

// FailoverReason categorizes why a provider request failed.
type FailoverReason string

const (
	ReasonRateLimit        FailoverReason = "rate_limit"
	ReasonTimeout          FailoverReason = "timeout"
	ReasonServerError      FailoverReason = "server_error"
	ReasonAuth             FailoverReason = "auth"
	ReasonBilling          FailoverReason = "billing"
	ReasonInvalidRequest   FailoverReason = "invalid_request"
	ReasonModelUnavailable FailoverReason = "model_unavailable"
	ReasonContentFilter    FailoverReason = "content_filter"
	ReasonUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a hosted or local backend.
type ProviderError struct {
	Reason    FailoverReason
	Backend   string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Backend != "" {
		parts = append(parts, e.Backend)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.RequestID != "" {
		parts = append(parts, "request_id="+e.RequestID)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is reports a content-filter rejection as ErrResponseBlocked.
func (e *ProviderError) Is(target error) bool {
	return target == ErrResponseBlocked && e.Reason == ReasonContentFilter
}

func NewProviderError(backend, model string, cause error) *ProviderError {
	e := &ProviderError{Backend: backend, Model: model, Cause: cause, Reason: ReasonUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = ClassifyError(cause)
	}
	return e
}

// WithStatus records the HTTP status and reclassifies from it when the
// status is conclusive.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if r := classifyStatusCode(status); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if r := classifyErrorCode(code); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return false
}

// ClassifyError guesses a FailoverReason from an error message.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return ReasonUnknown
	}
	s := strings.ToLower(err.Error())
	has := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
	switch {
	case has("timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case has("rate limit", "rate_limit", "too many requests", "resource exhausted", "throttl", "429"):
		return ReasonRateLimit
	case has("unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return ReasonAuth
	case has("billing", "payment", "insufficient_quota", "402"):
		return ReasonBilling
	case has("content_filter", "content policy", "safety", "blocked"):
		return ReasonContentFilter
	case has("model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case has("internal server", "server error", "overloaded", "connection reset", "connection refused", "500", "502", "503", "504", "529"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "throttlingexception":
		return ReasonRateLimit
	case "overloaded_error", "server_error", "serviceunavailableexception", "internalserverexception":
		return ReasonServerError
	case "authentication_error", "invalid_api_key", "accessdeniedexception":
		return ReasonAuth
	case "insufficient_quota", "billing_error":
		return ReasonBilling
	case "model_not_found", "resourcenotfoundexception":
		return ReasonModelUnavailable
	case "content_filter":
		return ReasonContentFilter
	default:
		return ReasonUnknown
	}
}

func blocked(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResponseBlocked, fmt.Sprintf(format, args...))
}
