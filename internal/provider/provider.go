// Package provider holds the pieces shared by the three upstream API
// clients: the outbound request gate (rate policy enforcement) and the
// retrying JSON GET helper.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"newsriver/internal/news"
	"newsriver/internal/quota"
)

// Gate applies a provider's rate policy before each outbound request:
// self-throttled providers wait on a token bucket sized to the minimum
// inter-request interval, capped providers reserve from the daily quota.
// Waiting respects the context and holds no locks.
type Gate struct {
	provider news.ProviderType
	policy   quota.RatePolicy
	tracker  news.QuotaTracker
	limiter  *rate.Limiter
	clock    news.Clock
}

// NewGate builds a Gate for the provider. tracker may be nil when the policy
// carries no daily cap.
func NewGate(provider news.ProviderType, policy quota.RatePolicy, tracker news.QuotaTracker, clock news.Clock) *Gate {
	var limiter *rate.Limiter
	if policy.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(policy.MinInterval), 1)
	}
	return &Gate{
		provider: provider,
		policy:   policy,
		tracker:  tracker,
		limiter:  limiter,
		clock:    clock,
	}
}

// Allow blocks until the next request may be issued, or fails fast with
// news.ErrQuotaExceeded when the daily cap is exhausted.
func (g *Gate) Allow(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if g.policy.DailyCap > 0 && g.tracker != nil {
		ok, err := g.tracker.TryReserve(ctx, g.provider, g.clock.Now(), g.policy.DailyCap)
		if err != nil {
			return fmt.Errorf("reserve quota: %w", err)
		}
		if !ok {
			return fmt.Errorf("%s: %w", g.provider, news.ErrQuotaExceeded)
		}
	}
	return nil
}

const (
	// fetchAttempts bounds retries of idempotent GETs on connection-level
	// failures. Application-level 4xx/5xx responses are never retried here.
	fetchAttempts = 3

	defaultRetryDelay = 5 * time.Second
)

// Requester issues JSON GET requests with fixed-delay retries on transport
// errors.
type Requester struct {
	client     *http.Client
	retryDelay time.Duration
}

// NewRequester builds a Requester with the given timeout. retryDelay <= 0
// selects the default 5s between attempts.
func NewRequester(timeout, retryDelay time.Duration) *Requester {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Requester{
		client:     &http.Client{Timeout: timeout},
		retryDelay: retryDelay,
	}
}

// Get issues a GET against endpoint with the encoded query and returns the
// status code and response body. Connection-level failures are retried up to
// fetchAttempts times; the last error is returned wrapped.
func (r *Requester) Get(ctx context.Context, endpoint string, query url.Values) (int, []byte, error) {
	full := endpoint
	if enc := query.Encode(); enc != "" {
		full = endpoint + "?" + enc
	}

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(r.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		closeErr := resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if closeErr != nil {
			lastErr = closeErr
			continue
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, fmt.Errorf("fetch after %d attempts: %w", fetchAttempts, lastErr)
}

// Truncate bounds a response body for error logs.
func Truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
