package llm

import (
	"net/http"
	"testing"
	"time"
)

func TestResolveBackoff(t *testing.T) {
	withHint := func(v string) http.Header {
		h := http.Header{}
		h.Set("Retry-After", v)
		return h
	}

	tests := []struct {
		name     string
		status   int
		attempt  int
		header   http.Header
		expected time.Duration
	}{
		{"server error first retry", 500, 0, nil, 500 * time.Millisecond},
		{"server error doubles", 503, 2, nil, 2 * time.Second},
		{"429 without hint", 429, 0, nil, 2 * time.Second},
		{"429 without hint doubles", 429, 1, nil, 4 * time.Second},
		{"429 without hint capped", 429, 5, nil, 30 * time.Second},
		{"429 honours hint", 429, 0, withHint("3"), 3 * time.Second},
		{"429 hint capped", 429, 0, withHint("600"), 60 * time.Second},
		{"429 invalid hint", 429, 0, withHint("soon"), 2 * time.Second},
		{"hint ignored for 503", 503, 0, withHint("10"), 500 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveBackoff(tc.status, tc.attempt, tc.header); got != tc.expected {
				t.Fatalf("expected %s got %s", tc.expected, got)
			}
		})
	}
}

func TestRetryBudget(t *testing.T) {
	if got := MaxRetriesForStatus(429); got != 2 {
		t.Fatalf("expected 2 retries for 429 got %d", got)
	}
	if got := MaxRetriesForStatus(502); got != 3 {
		t.Fatalf("expected 3 retries for 502 got %d", got)
	}
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		if !IsRetryableStatus(status) {
			t.Fatalf("expected %d to be retryable", status)
		}
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		if IsRetryableStatus(status) {
			t.Fatalf("expected %d to be permanent", status)
		}
	}
}
