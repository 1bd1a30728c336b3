package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestConfig_DelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, time.Second, cfg.Delay(10))
}

func TestConfig_JitterStaysWithinTenPercent(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := cfg.Delay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestRetrier_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1}, quietLogger())

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetrier_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	var calls atomic.Int32
	r := New(Config{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
	}, quietLogger())

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrier_LimitExceeded(t *testing.T) {
	t.Parallel()

	busy := errors.New("busy")
	r := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond}, quietLogger())

	err := r.Execute(context.Background(), func(ctx context.Context) error { return busy })

	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.ErrorIs(t, err, busy)
}

func TestRetrier_HonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := New(Config{MaxRetries: 10, BaseDelay: time.Hour}, quietLogger())

	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(ctx context.Context) error { return errors.New("busy") })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}
