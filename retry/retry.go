// Package retry paces repeated attempts against flaky upstream services.
// Backoff between attempts grows geometrically, optionally capped, and the
// total number of attempts can be bounded.
package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Settings configure one retry loop.
type Settings struct {
	InitialBackoff time.Duration
	Multiplier     int
	// MaxBackoff caps backoff growth when positive.
	MaxBackoff time.Duration
	// MaxRetries bounds the total number of attempts. Zero means no bound.
	MaxRetries int
}

func (s Settings) Verify() error {
	if s.InitialBackoff <= 0 {
		return errors.Newf("initial backoff must be positive, got %s", s.InitialBackoff)
	}
	if s.Multiplier < 1 {
		return errors.Newf("multiplier must be >= 1, got %d", s.Multiplier)
	}
	if s.MaxBackoff > 0 && s.InitialBackoff > s.MaxBackoff {
		return errors.Newf("initial backoff (%s) exceeds max backoff (%s)", s.InitialBackoff, s.MaxBackoff)
	}
	return nil
}

func DefaultSettings() Settings {
	return Settings{
		InitialBackoff: time.Second,
		Multiplier:     2,
	}
}

// Retry tracks a loop's position: the attempt just made and the backoff to
// sleep before the next one.
type Retry struct {
	Attempt int
	Backoff time.Duration

	settings Settings
}

func NewRetry(settings Settings) (*Retry, error) {
	if err := settings.Verify(); err != nil {
		return nil, err
	}
	return &Retry{
		Attempt:  1,
		Backoff:  settings.InitialBackoff,
		settings: settings,
	}, nil
}

// ShouldContinue reports whether another attempt is within budget.
func (r *Retry) ShouldContinue() bool {
	return r.settings.MaxRetries == 0 || r.Attempt < r.settings.MaxRetries
}

// Next advances to the following attempt, growing the backoff.
func (r *Retry) Next() {
	r.Attempt++
	r.Backoff *= time.Duration(r.settings.Multiplier)
	if r.settings.MaxBackoff > 0 && r.Backoff > r.settings.MaxBackoff {
		r.Backoff = r.settings.MaxBackoff
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// done, sleeping the current backoff between attempts. The last attempt's
// error is returned.
func Do(ctx context.Context, settings Settings, fn func() error) error {
	r, err := NewRetry(settings)
	if err != nil {
		return err
	}
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !r.ShouldContinue() {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.CombineErrors(ctx.Err(), err)
		case <-time.After(r.Backoff):
		}
		r.Next()
	}
}
