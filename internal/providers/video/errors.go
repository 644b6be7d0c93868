package video

import "fmt"

// ErrorCode is the closed taxonomy of provider failures. Callers use it to
// decide retry eligibility.
type ErrorCode string

const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeForbidden          ErrorCode = "forbidden"
	CodeNotFound           ErrorCode = "not_found"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeProviderInternal   ErrorCode = "provider_internal"
	CodeNetworkUnavailable ErrorCode = "network_unavailable"
)

// ProviderError wraps a transport or non-2xx provider response.
type ProviderError struct {
	Code    ErrorCode
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("video: provider %s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("video: provider %s: %s", e.Code, e.Message)
}

// Retryable reports whether the polling loop may keep retrying after this
// error. Only rate limiting and network loss qualify.
func (e *ProviderError) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeNetworkUnavailable
}

func classifyStatus(status int) ErrorCode {
	switch {
	case status == 400:
		return CodeBadRequest
	case status == 401:
		return CodeUnauthorized
	case status == 403:
		return CodeForbidden
	case status == 404:
		return CodeNotFound
	case status == 429:
		return CodeRateLimited
	case status >= 500:
		return CodeProviderInternal
	default:
		return CodeProviderInternal
	}
}

func networkError(err error) *ProviderError {
	return &ProviderError{Code: CodeNetworkUnavailable, Message: err.Error()}
}
