package util

import (
	"context"
	"time"
)

// Timer is a lightweight helper to measure elapsed durations.
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer starting at current time.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the duration since start.
func (t Timer) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return time.Since(t.start)
}

// ElapsedMs returns the elapsed milliseconds since start.
func (t Timer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}

// Sleeper pauses the caller between provider calls and retry attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper waits on the wall clock and aborts early when ctx is done.
type RealSleeper struct{}

// Sleep blocks for d or until ctx is cancelled.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately. Tests use it to keep retries synchronous.
type NoSleep struct{}

// Sleep only reports context cancellation.
func (NoSleep) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// RecordingSleeper records requested durations without waiting.
type RecordingSleeper struct {
	Durations []time.Duration
}

// Sleep appends d to the recorded list.
func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.Durations = append(r.Durations, d)
	return ctx.Err()
}
