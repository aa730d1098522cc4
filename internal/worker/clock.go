package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Clock is the time source for pacing. Tests substitute a fake that advances
// instantly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// pacer enforces a minimum gap between the starts of consecutive attempts.
// A token bucket with burst 1 grants the first attempt immediately and every
// later one no sooner than interval after the previous grant, however long
// the attempt itself took.
type pacer struct {
	lim   *rate.Limiter
	clock Clock
}

func newPacer(interval time.Duration, clock Clock) *pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &pacer{lim: rate.NewLimiter(limit, 1), clock: clock}
}

// Wait blocks until the next attempt may start. On cancel the reservation is
// returned so a resumed loop is not penalised.
func (p *pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.clock.Now()
	r := p.lim.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("pacer: reservation exceeds burst")
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	// Round up so float error in the bucket never shortens the gap.
	if rem := d % time.Microsecond; rem != 0 {
		d += time.Microsecond - rem
	}
	select {
	case <-p.clock.After(d):
		return nil
	case <-ctx.Done():
		r.CancelAt(p.clock.Now())
		return ctx.Err()
	}
}
