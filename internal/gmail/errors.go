package gmail

import "fmt"

// NotFoundError indicates a 404 response: the message (or label) no longer
// exists on the provider side. Callers treat it as "already gone" rather
// than a failure, which keeps deletions idempotent.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// AuthError indicates the remote identity is no longer authenticated
// (401, or a 403 that is a real permission error rather than quota).
// It is never retried; a running job that sees it transitions to failed.
type AuthError struct {
	StatusCode int
	Detail     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("not authenticated (%d): %s", e.StatusCode, e.Detail)
}

// RateLimitedError is returned when retries were exhausted while the
// provider kept answering with rate-limit responses. Ordinarily the
// client absorbs 429/403-quota responses with throttled retries and
// callers never see this type.
type RateLimitedError struct {
	StatusCode int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%d): retries exhausted", e.StatusCode)
}
