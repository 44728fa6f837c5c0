// Package relay provides the per-request completion primitives shared by the
// fetch and response paths: a single-winner Guard and the header Watchdog that
// races the upstream fetch.
package relay

import "sync/atomic"

// Outcome is the terminal action chosen for one inbound request.
type Outcome int32

const (
	// Pending means no terminal path has claimed the request yet.
	Pending Outcome = iota
	// Relayed means the upstream status, headers and body are streamed back.
	Relayed
	// Redirected means a same-origin 302 back into the relay is emitted.
	Redirected
	// Failed means an error page (or plain-text 400) is emitted.
	Failed
	// TimedOut means the upstream missed the header deadline; a 504 is emitted.
	TimedOut
)

// String returns the metrics label for the outcome.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Relayed:
		return "relayed"
	case Redirected:
		return "redirected"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Guard admits exactly one terminal Outcome per request. Every path that
// would write to the caller must win Claim first; losers write nothing.
// The zero value is ready to use.
type Guard struct {
	state atomic.Int32
}

// Claim transitions the guard from Pending to o. It reports whether this
// call won; once any call has won, every later call returns false.
func (g *Guard) Claim(o Outcome) bool {
	if o == Pending {
		return false
	}
	return g.state.CompareAndSwap(int32(Pending), int32(o))
}

// Outcome returns the winning outcome, or Pending if none has been claimed.
func (g *Guard) Outcome() Outcome {
	return Outcome(g.state.Load())
}
