package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Options configures exponential backoff for retries.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Default backoff settings used when opts are zero/invalid.
var Default = Options{
	MaxAttempts:  5,
	InitialDelay: 300 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

type IsRetryableFunc func(error) bool

// permanentError stops Do regardless of the retryable predicate.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth another attempt. errors.Is and
// errors.As still see the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// backoff yields the successive delays of one Do call.
type backoff struct {
	opts Options
	cur  time.Duration
	rng  *rand.Rand
}

func newBackoff(opts Options) *backoff {
	return &backoff{opts: opts, cur: opts.InitialDelay, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// next returns the delay before the following attempt, +/-20% jitter when
// enabled, capped at MaxDelay.
func (b *backoff) next() time.Duration {
	d := b.cur
	if b.opts.Jitter {
		delta := float64(b.cur) * 0.2
		d = time.Duration(math.Max(0, float64(b.cur)+(b.rng.Float64()*2-1)*delta))
	}
	d = min(d, b.opts.MaxDelay)

	// Grow with overflow guard.
	grown := time.Duration(float64(b.cur) * b.opts.Multiplier)
	if grown < b.cur {
		grown = b.cur
	}
	b.cur = min(grown, b.opts.MaxDelay)
	return d
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn with retries and exponential backoff until it succeeds,
// context is done, or attempts are exhausted. Returns the last error.
func Do(ctx context.Context, opts Options, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts = Default
	}
	b := newBackoff(opts)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || (isRetryable != nil && !isRetryable(err)) || attempt >= opts.MaxAttempts {
			return err
		}
		if serr := sleep(ctx, b.next()); serr != nil {
			return serr
		}
	}
}

// ErrTimeout is returned by Poll when the condition never held.
var ErrTimeout = errors.New("poll timed out")

// Poll evaluates cond every interval until it reports true, returns an
// error, or timeout elapses. A non-positive timeout polls until ctx is done.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := sleep(ctx, interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrTimeout
			}
			return err
		}
	}
}
