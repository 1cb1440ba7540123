package ai

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RetryingProvider wraps a Provider with a bounded retry loop using a fixed
// inter-attempt delay. A cancelled context stops the loop immediately: there
// is no point finishing work whose caller is gone.
type RetryingProvider struct {
	Next     Provider
	Attempts int
	Delay    time.Duration
}

func WithRetry(next Provider, attempts int, delay time.Duration) *RetryingProvider {
	if attempts <= 0 {
		attempts = 1
	}
	return &RetryingProvider{Next: next, Attempts: attempts, Delay: delay}
}

func (p *RetryingProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		reply, err := p.Next.Chat(ctx, messages)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		log.Printf("[ai] chat attempt failed attempt=%d/%d err=%v", attempt, p.Attempts, err)
		if attempt < p.Attempts {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("all %d attempts failed: %w", p.Attempts, lastErr)
}
