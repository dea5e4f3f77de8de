package api

import (
	"context"
	"errors"
	"net/http"

	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/schema"
)

// Error categories reported to callers and metrics.
const (
	CategoryParse     = "llm_parse_error"
	CategorySchema    = "llm_schema_error"
	CategoryAuth      = "auth_error"
	CategoryRateLimit = "rate_limit_error"
	CategoryNetwork   = "network_error"
	CategoryProvider  = "provider_error"
	CategoryExhausted = "providers_exhausted"
	CategoryUnknown   = "unknown_error"
)

// Classification is the caller-facing description of an evaluation failure.
type Classification struct {
	Status   int
	Error    string
	Details  string
	Category string
}

// classifyError maps a pipeline error onto an HTTP status and category by
// inspecting the typed error chain.
func classifyError(err error) Classification {
	var (
		callErr    *llm.ProviderCallError
		netErr     *llm.NetworkError
		exhausted  *llm.ExhaustedError
		statusCode int
	)
	if errors.As(err, &callErr) {
		statusCode = callErr.StatusCode
	}

	switch {
	case errors.Is(err, schema.ErrInvalidResponseFormat):
		return Classification{
			Status:   http.StatusBadGateway,
			Error:    "Model response is not valid JSON",
			Details:  "The provider output did not contain a JSON object. Retry the request or switch LLM_MODEL.",
			Category: CategoryParse,
		}
	case errors.Is(err, schema.ErrSchemaValidation):
		return Classification{
			Status:   http.StatusBadGateway,
			Error:    "Model response failed schema validation",
			Details:  err.Error(),
			Category: CategorySchema,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return Classification{
			Status:   http.StatusUnauthorized,
			Error:    "LLM call failed (401) / invalid API key",
			Details:  "Check LLM_API_KEY for the configured provider.",
			Category: CategoryAuth,
		}
	case statusCode == http.StatusTooManyRequests:
		return Classification{
			Status:   http.StatusTooManyRequests,
			Error:    "LLM call failed (429) / quota-rate limit",
			Details:  "Check provider quota and billing, wait a bit, then retry.",
			Category: CategoryRateLimit,
		}
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Classification{
			Status:   http.StatusGatewayTimeout,
			Error:    "LLM provider timeout/network failure",
			Details:  "Temporary provider or network issue. Retry shortly.",
			Category: CategoryNetwork,
		}
	case errors.As(err, &exhausted):
		return Classification{
			Status:   http.StatusBadGateway,
			Error:    "All LLM providers failed",
			Details:  err.Error(),
			Category: CategoryExhausted,
		}
	case callErr != nil:
		return Classification{
			Status:   http.StatusBadGateway,
			Error:    "LLM provider error",
			Details:  err.Error(),
			Category: CategoryProvider,
		}
	default:
		return Classification{
			Status:   http.StatusInternalServerError,
			Error:    "Evaluation failed",
			Details:  err.Error(),
			Category: CategoryUnknown,
		}
	}
}
