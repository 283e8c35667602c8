package netutil

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrier_Do(t *testing.T) {
	r := NewRetrier(nil, time.Millisecond*10, time.Millisecond*200, 2)
	c := 0
	threshold := 2
	f := func() error {
		c++
		if c >= threshold {
			return nil
		}

		return errors.New("foo")
	}

	t.Run("should retry", func(t *testing.T) {
		c = 0

		err := r.Do(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, 2, c)
	})

	t.Run("if retry reaches threshold should error", func(t *testing.T) {
		c = 0
		threshold = 100
		defer func() {
			threshold = 2
		}()

		err := r.Do(context.Background(), f)
		require.Error(t, err)
		assert.Equal(t, ErrThresholdReached, errors.Cause(err))
	})

	t.Run("should return whitelisted errors if any instead of retry", func(t *testing.T) {
		bar := errors.New("bar")
		wR := NewRetrier(nil, 5*time.Millisecond, time.Second, 2).WithErrWhitelist(bar)
		calls := 0
		barF := func() error {
			calls++
			return errors.Wrap(bar, "wrapped")
		}

		err := wR.Do(context.Background(), barF)
		require.Error(t, err)
		assert.Equal(t, bar, errors.Cause(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("should stop on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		slow := NewRetrier(nil, time.Second, 10*time.Second, 2)

		err := slow.Do(ctx, func() error { return errors.New("never") })
		assert.Equal(t, context.DeadlineExceeded, err)
	})
}
