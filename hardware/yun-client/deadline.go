package yun

import "time"

// deadline is absolute point on monotonic clock.
type deadline struct{ at time.Time }

func after(d time.Duration) deadline { return deadline{at: time.Now().Add(d)} }

func (d deadline) expired() bool { return !time.Now().Before(d.at) }

// sleep waits step or until deadline, whichever comes first.
func (d deadline) sleep(step time.Duration) {
	left := time.Until(d.at)
	if left <= 0 {
		return
	}
	if step > left {
		step = left
	}
	time.Sleep(step)
}
