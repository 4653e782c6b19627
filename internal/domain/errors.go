package domain

import "errors"

// Closed error taxonomy. Call sites branch with errors.Is; wrapping with
// fmt.Errorf("...: %w", err) preserves the kind.
var (
	// Provider-side failures.
	ErrTransientProvider = errors.New("transient provider error")
	ErrRateLimited       = errors.New("rate limited by provider")
	ErrQuotaExhausted    = errors.New("provider quota exhausted")
	ErrAuthFailure       = errors.New("provider authentication failed")
	ErrNotSupported      = errors.New("operation not supported by provider")

	// Pipeline verdicts.
	ErrInsufficientData = errors.New("insufficient history")
	ErrIneligible       = errors.New("asset ineligible for scoring")
	ErrPublishConflict  = errors.New("publish already in progress for this scope")

	// Caller-visible ad-hoc failures.
	ErrQuotaExceeded = errors.New("daily scoring quota exceeded")
	ErrAssetNotFound = errors.New("asset not found")
)

// RetryableProviderError reports whether the adapter may retry the call.
// Auth and quota failures never retry.
func RetryableProviderError(err error) bool {
	return errors.Is(err, ErrTransientProvider) || errors.Is(err, ErrRateLimited)
}
