package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig controls the retrying wrapper.
type RetryConfig struct {
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles per attempt.
	Backoff time.Duration
	// RateLimitBackoff replaces Backoff when the provider reported rate limiting.
	RateLimitBackoff time.Duration
	// RequestsPerMinute paces outgoing queries. Zero disables pacing.
	RequestsPerMinute float64
}

// Retrying wraps a Querier with error-only retries and request pacing.
type Retrying struct {
	next    Querier
	cfg     RetryConfig
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func WithRetry(next Querier, cfg RetryConfig) *Retrying {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = 20 * time.Second
	}
	r := &Retrying{next: next, cfg: cfg, sleep: sleepCtx}
	if cfg.RequestsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return r
}

func (r *Retrying) Query(ctx context.Context, msgs []Message, structured bool) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	attempts := normalizedAttempts(r.cfg.MaxAttempts)
	backoff := r.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		out, err := r.next.Query(ctx, msgs, structured)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, err) {
			break
		}

		wait := backoff
		if errors.Is(err, ErrRateLimited) && r.cfg.RateLimitBackoff > wait {
			wait = r.cfg.RateLimitBackoff
		}
		log.Printf("[LLM] attempt %d/%d failed, retrying in %s: %v", attempt, attempts, wait, err)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
		backoff *= 2
	}
	return "", lastErr
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsProviderFailure(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
