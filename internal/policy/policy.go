// Package policy holds the response header policy applied to every relayed
// upstream response.
package policy

import "net/http"

// Category classifies a header the policy strips.
type Category int

const (
	// Forward means the header passes through unchanged.
	Forward Category = iota
	// FrameBlocking headers instruct browsers to refuse iframe embedding.
	FrameBlocking
	// HopByHop headers only describe the upstream connection leg.
	HopByHop
)

func (c Category) String() string {
	switch c {
	case FrameBlocking:
		return "frame_blocking"
	case HopByHop:
		return "hop_by_hop"
	default:
		return "forward"
	}
}

// HeaderPolicy is an immutable name→category table. Lookups are
// case-insensitive; the table is never mutated after construction, so it is
// safe for concurrent use.
type HeaderPolicy struct {
	stripped map[string]Category
}

// New builds a policy from the two stripped categories. A name listed in both
// is classified as frame-blocking.
func New(frameBlocking, hopByHop []string) *HeaderPolicy {
	m := make(map[string]Category, len(frameBlocking)+len(hopByHop))
	for _, h := range hopByHop {
		m[http.CanonicalHeaderKey(h)] = HopByHop
	}
	for _, h := range frameBlocking {
		m[http.CanonicalHeaderKey(h)] = FrameBlocking
	}
	return &HeaderPolicy{stripped: m}
}

// Default returns the relay policy: frame-denial and CSP headers plus the
// connection-scoped transfer headers.
func Default() *HeaderPolicy {
	return New(
		[]string{
			"X-Frame-Options",
			"Content-Security-Policy",
			"Content-Security-Policy-Report-Only",
		},
		[]string{
			"Transfer-Encoding",
			"Connection",
			"Keep-Alive",
		},
	)
}

// Classify returns the category of name.
func (p *HeaderPolicy) Classify(name string) Category {
	if c, ok := p.stripped[http.CanonicalHeaderKey(name)]; ok {
		return c
	}
	return Forward
}

// Filter returns the forwarded subset of src and, per stripped category, how
// many header names were dropped. src is not modified.
func (p *HeaderPolicy) Filter(src http.Header) (http.Header, map[Category]int) {
	dst := make(http.Header, len(src))
	var dropped map[Category]int
	for key, vals := range src {
		if c := p.Classify(key); c != Forward {
			if dropped == nil {
				dropped = make(map[Category]int, 2)
			}
			dropped[c]++
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst, dropped
}
