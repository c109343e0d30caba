package state

import (
	"context"
	"time"
)

// Throttle forwards values from in to emit at most once per window. The
// first value after a quiet period is emitted immediately (leading edge);
// the newest value seen during the window is emitted when it closes
// (trailing edge), which opens a new window. When in is closed the pending
// trailing value is flushed. Throttle returns when ctx is done or in closes.
func Throttle[T any](ctx context.Context, in <-chan T, window time.Duration, emit func(T)) {
	var (
		timer      *time.Timer
		timerC     <-chan time.Time
		pending    T
		hasPending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				if hasPending {
					emit(pending)
				}
				return
			}
			if timerC != nil {
				pending, hasPending = v, true
				continue
			}
			emit(v)
			if timer == nil {
				timer = time.NewTimer(window)
			} else {
				timer.Reset(window)
			}
			timerC = timer.C
		case <-timerC:
			if !hasPending {
				timerC = nil
				continue
			}
			emit(pending)
			var zero T
			pending, hasPending = zero, false
			timer.Reset(window)
		}
	}
}
