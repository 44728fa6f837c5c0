package relay

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// ErrBodyStalled is returned by a watched body when the upstream sent no
// bytes for the idle timeout.
var ErrBodyStalled = errors.New("upstream body stalled")

// Watchdog bounds the wait for upstream response headers. When it fires
// before Stop it claims TimedOut on the guard and cancels the fetch context,
// which aborts that request's upstream connection and nothing else.
type Watchdog struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// Watch derives a cancellable context from parent and arms a watchdog that
// fires after timeout. A non-positive timeout arms nothing. Release must be
// called once the upstream body is no longer needed.
func Watch(parent context.Context, timeout time.Duration, g *Guard) (context.Context, *Watchdog) {
	ctx, cancel := context.WithCancel(parent)
	w := &Watchdog{cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			if g.Claim(TimedOut) {
				cancel()
			}
		})
	}
	return ctx, w
}

// Stop disarms the watchdog once headers have arrived or the fetch failed.
// It reports whether the watchdog was stopped before it fired.
func (w *Watchdog) Stop() bool {
	if w.timer == nil {
		return true
	}
	return w.timer.Stop()
}

// Release cancels the fetch context. It is safe to call more than once.
func (w *Watchdog) Release() {
	w.Stop()
	w.cancel()
}

// Body wraps an upstream body fetched under w. Each Read that waits longer
// than idle for upstream bytes cancels the fetch and fails with
// ErrBodyStalled. Close releases the watchdog. A non-positive idle leaves
// reads unbounded.
func (w *Watchdog) Body(rc io.ReadCloser, idle time.Duration) io.ReadCloser {
	return &watchedBody{ReadCloser: rc, w: w, idle: idle}
}

type watchedBody struct {
	io.ReadCloser
	w       *Watchdog
	idle    time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

// Read is bounded only while waiting on the upstream; time spent by the
// caller consuming earlier chunks does not count.
func (b *watchedBody) Read(p []byte) (int, error) {
	if b.idle <= 0 {
		return b.ReadCloser.Read(p)
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.idle, b.stall)
	} else {
		b.timer.Reset(b.idle)
	}
	n, err := b.ReadCloser.Read(p)
	b.timer.Stop()
	if err != nil && b.stalled.Load() {
		return n, ErrBodyStalled
	}
	return n, err
}

func (b *watchedBody) stall() {
	b.stalled.Store(true)
	b.w.cancel()
}

func (b *watchedBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.w.Release()
	return err
}
