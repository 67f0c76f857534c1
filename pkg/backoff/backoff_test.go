package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errThrottled = errors.New("throttled")
	errFatal     = errors.New("fatal")
)

func isThrottled(err error) bool { return errors.Is(err, errThrottled) }

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
}

func TestPolicyDelayJitter(t *testing.T) {
	p := DefaultPolicy()

	for n := uint(0); n < 4; n++ {
		base := Policy{BaseDelay: p.BaseDelay, Multiplier: p.Multiplier}.Delay(n)
		for range 50 {
			d := p.Delay(n)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+p.MaxJitter)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy()},
		{name: "zero attempts", policy: Policy{MaxAttempts: 0, Multiplier: 2}, wantErr: true},
		{name: "shrinking multiplier", policy: Policy{MaxAttempts: 3, Multiplier: 0.5}, wantErr: true},
		{name: "negative delay", policy: Policy{MaxAttempts: 3, Multiplier: 1, BaseDelay: -time.Second}, wantErr: true},
		{name: "negative jitter", policy: Policy{MaxAttempts: 3, Multiplier: 1, MaxJitter: -1}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var delays []time.Duration

	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls <= 2 {
			return errThrottled
		}
		return nil
	},
		RetryIf(isThrottled),
		OnRetry(func(_ uint, delay time.Duration, _ error) { delays = append(delays, delay) }),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return errFatal
	}, RetryIf(isThrottled))

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDoIsBounded(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return errThrottled
	}, RetryIf(isThrottled))

	assert.ErrorIs(t, err, errThrottled)
	assert.Equal(t, 5, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Run("during wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2}

		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			cancel()
			return errThrottled
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("before first call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := fastPolicy().Do(ctx, func() error {
			calls++
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}
