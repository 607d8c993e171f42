package clock

import (
	"context"
	"time"
)

// Waiter polls a condition at a fixed interval against a deadline.
type Waiter struct {
	Clock    Clock
	Interval time.Duration
}

// Until evaluates cond every Interval until it reports true, the timeout
// elapses or ctx is done. A timeout <= 0 waits without a deadline.
//
// Returns (true, nil) when the condition was met, (false, nil) on timeout and
// (false, err) when cond fails or ctx is cancelled.
func (w Waiter) Until(ctx context.Context, timeout time.Duration, cond func() (bool, error)) (bool, error) {
	start := w.Clock.Now()
	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if timeout > 0 && w.Clock.Now().Sub(start) > timeout {
			return false, nil
		}
		if err := w.Clock.Sleep(ctx, w.Interval); err != nil {
			return false, err
		}
	}
}
