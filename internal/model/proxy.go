// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"

	"split-browser-go/internal/relay"
	"split-browser-go/internal/target"
)

// ProxyRequest is one inbound "fetch and relay this target" call. It lives
// only for the duration of that call and is never shared.
type ProxyRequest struct {
	Ctx    context.Context
	Target *target.Target
	// Hops is the number of upstream redirects already remapped in this chain.
	Hops  int
	Guard *relay.Guard
}

// UpstreamResponse is the upstream response to be streamed back. The holder
// owns Body and must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RelayResult is the successful outcome of a relay: either a same-origin
// redirect Location or an upstream response to stream.
type RelayResult struct {
	Redirect string
	Response *UpstreamResponse
}
