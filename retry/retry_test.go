package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestVerifySettings(t *testing.T) {
	for _, tc := range []struct {
		desc          string
		settings      Settings
		expectedError string
	}{
		{
			desc:     "default settings",
			settings: DefaultSettings(),
		},
		{
			desc:          "initial backoff unset",
			settings:      Settings{},
			expectedError: "initial backoff must be positive, got 0s",
		},
		{
			desc:          "multiplier unset",
			settings:      Settings{InitialBackoff: time.Second},
			expectedError: "multiplier must be >= 1, got 0",
		},
		{
			desc:          "max backoff below initial",
			settings:      Settings{InitialBackoff: time.Second, Multiplier: 5, MaxBackoff: time.Millisecond},
			expectedError: "initial backoff (1s) exceeds max backoff (1ms)",
		},
		{
			desc:     "everything valid",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 5, MaxBackoff: time.Hour},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.settings.Verify()
			if tc.expectedError != "" {
				require.EqualError(t, err, tc.expectedError)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBackoffSchedule(t *testing.T) {
	for _, tc := range []struct {
		desc             string
		settings         Settings
		expectedBackoffs []time.Duration
		expectedContinue bool
	}{
		{
			desc:     "unbounded",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 2},
			expectedBackoffs: []time.Duration{
				time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			},
			expectedContinue: true,
		},
		{
			desc: "capped",
			settings: Settings{
				InitialBackoff: time.Second, Multiplier: 2, MaxBackoff: 2 * time.Second,
			},
			expectedBackoffs: []time.Duration{
				time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
			},
			expectedContinue: true,
		},
		{
			desc: "attempt budget",
			settings: Settings{
				InitialBackoff: time.Second, Multiplier: 2, MaxRetries: 3,
			},
			expectedBackoffs: []time.Duration{
				time.Second, 2 * time.Second, 4 * time.Second,
			},
			expectedContinue: false,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			r, err := NewRetry(tc.settings)
			require.NoError(t, err)
			for i, expected := range tc.expectedBackoffs {
				require.Equal(t, i+1, r.Attempt)
				require.Equal(t, expected, r.Backoff)
				if i < len(tc.expectedBackoffs)-1 {
					require.True(t, r.ShouldContinue())
				}
				r.Next()
			}
			require.Equal(t, tc.expectedContinue, r.ShouldContinue())
		})
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	settings := Settings{
		InitialBackoff: time.Millisecond,
		Multiplier:     1,
		MaxRetries:     3,
	}

	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		err := Do(ctx, settings, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		attempts := 0
		err := Do(ctx, settings, func() error {
			attempts++
			return errors.New("persistent")
		})
		require.EqualError(t, err, "persistent")
		require.Equal(t, 3, attempts)
	})

	t.Run("context canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		attempts := 0
		// Backoff large enough that only cancellation can fire.
		err := Do(cctx, Settings{InitialBackoff: time.Hour, Multiplier: 1, MaxRetries: 3}, func() error {
			attempts++
			return errors.New("transient")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, attempts)
	})

	t.Run("bad settings", func(t *testing.T) {
		err := Do(ctx, Settings{}, func() error { return nil })
		require.Error(t, err)
	})
}
