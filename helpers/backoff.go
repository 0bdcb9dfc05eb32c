package helpers

import (
	"sync"
	"time"
)

// Limited exponential backoff for retry and poll delays.
// Choose DelayAfter or DelayBefore whichever fits your code better.
// First delay is always 0.
// Failure() increases next delay by K, Reset() returns it to Min.
type Backoff struct {
	mu   sync.Mutex
	next time.Duration
	last time.Time

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Use scenario:
//
//	for {
//		err := op()
//		time.Sleep(backoff.DelayAfter(err == nil))
//	}
func (b *Backoff) DelayAfter(success bool) time.Duration {
	b.mu.Lock()
	if b.next == 0 {
		b.next = b.Min
	}
	b.mu.Unlock()
	b.Update(success)
	return b.DelayBefore()
}

// Use scenario:
//
//	for {
//		time.Sleep(backoff.DelayBefore())
//		err := op()
//		backoff.Update(err == nil)
//	}
func (b *Backoff) DelayBefore() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == 0 {
		return 0
	}
	delay := b.limit(b.next)
	since := time.Since(b.last)
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

// Next returns delay that would apply after last Update, ignoring elapsed time.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit(b.next)
}

// Increase next delay
func (b *Backoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.next
	if next == 0 {
		next = b.Min
	}
	next = b.limit(time.Duration(float32(next) * b.K))
	b.last = time.Now()
	b.next = next
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = time.Now()
	b.next = b.Min
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
