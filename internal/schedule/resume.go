package schedule

import (
	"context"
	"time"
)

// NotifyResume invokes fn whenever the wall clock jumps by more than
// threshold beyond the tick interval, which happens when the host resumes
// from suspend. Timer-based detection avoids platform power-management
// APIs: a sleeping machine cannot tick, so a large gap between ticks means
// the process was suspended.
func NotifyResume(ctx context.Context, interval, threshold time.Duration, fn func(gap time.Duration)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				gap := now.Sub(last) - interval
				if gap > threshold {
					fn(gap)
				}
				last = now
			}
		}
	}()
}
