package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/util"
)

const (
	defaultCallTimeout = 15 * time.Second
	maxAttempts        = 3
	maxRetries         = 3
	maxRetries429      = 2
	backoffBase        = 500 * time.Millisecond
	backoffBase429     = 2 * time.Second
	maxBackoff429      = 30 * time.Second
	maxRetryAfter      = 60 * time.Second
	maxResponseBytes   = 4 << 20
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether status belongs to the transient set.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// MaxRetriesForStatus returns the retry budget for a transient status.
func MaxRetriesForStatus(status int) int {
	if status == http.StatusTooManyRequests {
		return maxRetries429
	}
	return maxRetries
}

// ResolveBackoff computes the wait before retry number attempt (zero based).
// A Retry-After hint is honoured for 429 responses, capped at 60 s.
func ResolveBackoff(status, attempt int, header http.Header) time.Duration {
	if status == http.StatusTooManyRequests {
		if header != nil {
			if hint := strings.TrimSpace(header.Get("Retry-After")); hint != "" {
				if secs, err := strconv.ParseFloat(hint, 64); err == nil && secs > 0 && !math.IsInf(secs, 0) {
					d := time.Duration(secs * float64(time.Second))
					if d > maxRetryAfter {
						d = maxRetryAfter
					}
					return d
				}
			}
		}
		d := backoffBase429 << attempt
		if d > maxBackoff429 {
			d = maxBackoff429
		}
		return d
	}
	return backoffBase << attempt
}

// Options configure provider adapters.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Sleeper    util.Sleeper
	Metrics    metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultCallTimeout
	}
	if o.Sleeper == nil {
		o.Sleeper = util.RealSleeper{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	return o
}

// transport performs one provider call with per-attempt timeouts and the
// status-aware retry schedule.
type transport struct {
	httpClient *http.Client
	timeout    time.Duration
	sleeper    util.Sleeper
	metrics    metrics.Recorder
	provider   string
	model      string
}

func newTransport(provider, model string, opts Options) *transport {
	opts = opts.withDefaults()
	return &transport{
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		sleeper:    opts.Sleeper,
		metrics:    opts.Metrics,
		provider:   provider,
		model:      model,
	}
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

func (t *transport) do(ctx context.Context, build requestBuilder) ([]byte, error) {
	log := logrus.WithFields(logrus.Fields{"provider": t.provider, "model": t.model})

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, status, header, err := t.attempt(ctx, build)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr *NetworkError
			if !errors.As(err, &netErr) {
				return nil, err
			}
			lastErr = netErr
			if attempt >= maxRetries || attempt+1 >= maxAttempts {
				return nil, netErr
			}
			wait := backoffBase << attempt
			log.WithError(err).WithFields(logrus.Fields{
				"attempt":    attempt + 1,
				"backoff_ms": wait.Milliseconds(),
			}).Warn("retrying after network error")
			t.metrics.LLMRetry(t.provider, t.model, "network")
			if err := t.sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if status >= 200 && status < 300 {
			return body, nil
		}

		callErr := &ProviderCallError{
			Provider:   t.provider,
			Model:      t.model,
			StatusCode: status,
			Body:       excerpt(body),
		}
		lastErr = callErr
		if !IsRetryableStatus(status) || attempt >= MaxRetriesForStatus(status) || attempt+1 >= maxAttempts {
			return nil, callErr
		}
		wait := ResolveBackoff(status, attempt, header)
		log.WithFields(logrus.Fields{
			"status":     status,
			"attempt":    attempt + 1,
			"backoff_ms": wait.Milliseconds(),
		}).Warn("retrying after error")
		t.metrics.LLMRetry(t.provider, t.model, "status_"+strconv.Itoa(status))
		if err := t.sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (t *transport) attempt(ctx context.Context, build requestBuilder) ([]byte, int, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, &NetworkError{
			Provider: t.provider,
			Model:    t.model,
			Timeout:  errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, nil, &NetworkError{
			Provider: t.provider,
			Model:    t.model,
			Timeout:  errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
			Err:      fmt.Errorf("read response: %w", err),
		}
	}
	return body, resp.StatusCode, resp.Header, nil
}
