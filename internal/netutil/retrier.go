// Package netutil provides retry helpers for operations that may succeed
// once the mesh has converged.
package netutil

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

// ErrThresholdReached is returned when retries keep failing past the threshold.
var ErrThresholdReached = errors.New("threshold timeout has been reached")

// RetryFunc is the operation retried by a Retrier.
type RetryFunc func() error

// Retrier retries a RetryFunc with exponential backoff until it succeeds,
// returns a whitelisted error, or the threshold elapses.
type Retrier struct {
	log                *logging.Logger
	exponentialBackoff time.Duration
	exponentialFactor  uint32
	threshold          time.Duration
	errWhitelist       map[error]struct{}
}

// NewRetrier returns a Retrier. The first retry happens after
// exponentialBackoff and every following delay is multiplied by factor.
func NewRetrier(log *logging.Logger, exponentialBackoff, threshold time.Duration, factor uint32) *Retrier {
	if log == nil {
		log = logging.MustGetLogger("retrier")
	}
	if factor == 0 {
		factor = 1
	}
	return &Retrier{
		log:                log,
		exponentialBackoff: exponentialBackoff,
		threshold:          threshold,
		exponentialFactor:  factor,
		errWhitelist:       make(map[error]struct{}),
	}
}

// WithErrWhitelist sets errors which are returned immediately instead of
// being retried. Errors are compared by cause.
func (r *Retrier) WithErrWhitelist(errors ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errors {
		m[err] = struct{}{}
	}

	r.errWhitelist = m
	return r
}

// Do runs f until it succeeds. On threshold the last error is wrapped in
// ErrThresholdReached.
func (r *Retrier) Do(ctx context.Context, f RetryFunc) error {
	deadline := time.NewTimer(r.threshold)
	defer deadline.Stop()

	currentBackoff := r.exponentialBackoff
	for {
		err := f()
		if err == nil {
			return nil
		}
		if r.isWhitelisted(err) {
			return err
		}
		r.log.WithError(err).Debugf("Retrying in %s", currentBackoff)

		backoff := time.NewTimer(currentBackoff)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		case <-deadline.C:
			backoff.Stop()
			return errors.Wrap(ErrThresholdReached, err.Error())
		case <-backoff.C:
		}
		currentBackoff = currentBackoff * time.Duration(r.exponentialFactor)
	}
}

func (r *Retrier) isWhitelisted(err error) bool {
	_, ok := r.errWhitelist[errors.Cause(err)]
	return ok
}
