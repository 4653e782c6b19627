package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/marketgps/core/internal/domain"
)

// APIError carries the raw HTTP failure for logs while the wrapped domain
// error drives control flow.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d, endpoint: %s)",
		e.Provider, truncate(e.Message, 200), e.StatusCode, e.Endpoint)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ClassifyStatus maps an HTTP failure onto the domain taxonomy:
// 429 rate limited, 402 (and 403 plan messages) quota exhausted, 401/403
// auth, 404 unknown asset, 5xx transient.
func ClassifyStatus(provider string, status int, body, endpoint string) error {
	apiErr := &APIError{Provider: provider, StatusCode: status, Message: body, Endpoint: endpoint}

	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr)
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", domain.ErrQuotaExhausted, apiErr)
	case status == http.StatusForbidden &&
		(strings.Contains(lower, "exceeded") || strings.Contains(lower, "limit") || strings.Contains(lower, "quota")):
		return fmt.Errorf("%w: %s", domain.ErrQuotaExhausted, apiErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthFailure, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, apiErr)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrTransientProvider, apiErr)
	default:
		return fmt.Errorf("%w: %s", domain.ErrTransientProvider, apiErr)
	}
}
