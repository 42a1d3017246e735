package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"maskstudio/internal/domain"
)

// StatusError is returned by provider clients for non-2xx upstream replies.
type StatusError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, msg, e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.Status)
}

// Retrying retries a provider call on transient failures and tags every
// final failure with domain.ErrProviderFailure.
type Retrying struct {
	next    Provider
	retries int
	backoff time.Duration
}

// WithRetry wraps p. retries is the number of extra attempts after the first.
func WithRetry(p Provider, retries int) *Retrying {
	if retries < 0 {
		retries = 0
	}
	return &Retrying{next: p, retries: retries, backoff: 250 * time.Millisecond}
}

func (r *Retrying) Name() string {
	return r.next.Name()
}

// Generate fulfils the Generator interface.
func (r *Retrying) Generate(ctx context.Context, req GenerateRequest) ([]Asset, error) {
	return r.do(ctx, func() ([]Asset, error) { return r.next.Generate(ctx, req) })
}

// Edit fulfils the Editor interface.
func (r *Retrying) Edit(ctx context.Context, req EditRequest) ([]Asset, error) {
	return r.do(ctx, func() ([]Asset, error) { return r.next.Edit(ctx, req) })
}

func (r *Retrying) do(ctx context.Context, call func() ([]Asset, error)) ([]Asset, error) {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", domain.ErrProviderFailure, ctx.Err())
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
		var assets []Asset
		assets, err = call()
		if err == nil {
			return assets, nil
		}
		if !IsTransient(err) {
			break
		}
	}
	if errors.Is(err, domain.ErrProviderFailure) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrProviderFailure, err)
}

var _ Provider = (*Retrying)(nil)

// IsTransient reports whether err is worth retrying: upstream 5xx and 429
// replies, timeouts, and the "internal error"/"unavailable" family of
// messages some providers return with a 200 or 4xx status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrMissingAPIKey) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		if status.Status >= 500 || status.Status == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if msg == "" {
		return false
	}
	if strings.Contains(msg, "internalerror") || strings.Contains(msg, "internal error") {
		return true
	}
	if strings.Contains(msg, "service unavailable") || strings.Contains(msg, "server unavailable") {
		return true
	}
	if strings.Contains(msg, "is currently loading") {
		return true
	}
	return strings.Contains(msg, "timeout")
}
