// Package target validates caller-supplied target URLs and builds the relay
// links that point back at them.
package target

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Relay endpoint and its query parameters.
const (
	Endpoint  = "/proxy"
	ParamURL  = "url"
	ParamHops = "hops"
)

// Sentinel errors for target resolution.
var (
	// ErrMissingTarget is returned when the url parameter is absent or empty.
	ErrMissingTarget = errors.New("missing url parameter")

	// ErrInvalidTarget is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid target URL")

	// ErrForbiddenTarget is returned when the target host is outside the configured allowlist.
	ErrForbiddenTarget = errors.New("target host not allowed")
)

// InvalidError carries the reason a target was rejected. It matches
// ErrInvalidTarget under errors.Is.
type InvalidError struct {
	Raw string
	Err error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid target %q: %v", e.Raw, e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInvalidTarget.
func (e *InvalidError) Is(target error) bool { return target == ErrInvalidTarget }

// Transport is the upstream connection kind selected by the target scheme.
type Transport int

const (
	Plaintext Transport = iota
	Encrypted
)

func (t Transport) String() string {
	if t == Encrypted {
		return "https"
	}
	return "http"
}

// Target is a validated absolute upstream URL.
type Target struct {
	URL       *url.URL
	Transport Transport
}

// String returns the normalized absolute URL.
func (t *Target) String() string { return t.URL.String() }

// Host returns the normalized host name without port.
func (t *Target) Host() string { return t.URL.Hostname() }

// hostProfile maps internationalized host names to their ASCII form without
// the STD3 restriction, so hosts containing underscores still resolve.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// Resolver turns the raw url parameter into a Target. It never touches the network.
type Resolver struct {
	allowed []string
}

// NewResolver creates a Resolver. An empty allowedHosts list admits every host.
func NewResolver(allowedHosts []string) *Resolver {
	allowed := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed = append(allowed, strings.TrimSuffix(strings.ToLower(h), "."))
	}
	return &Resolver{allowed: allowed}
}

// Resolve validates raw and selects the transport for it.
func (r *Resolver) Resolve(raw string) (*Target, error) {
	if raw == "" {
		return nil, ErrMissingTarget
	}

	u, err := url.Parse(raw)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &InvalidError{Raw: raw, Err: err}
	}
	if !u.IsAbs() {
		return nil, &InvalidError{Raw: raw, Err: errors.New("URL must be absolute")}
	}

	var transport Transport
	switch u.Scheme {
	case "https":
		transport = Encrypted
	case "http":
		transport = Plaintext
	default:
		return nil, &InvalidError{Raw: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	if u.Hostname() == "" {
		return nil, &InvalidError{Raw: raw, Err: errors.New("missing host")}
	}
	if err := normalizeHost(u); err != nil {
		return nil, &InvalidError{Raw: raw, Err: err}
	}

	if !r.allows(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrForbiddenTarget, u.Hostname())
	}

	return &Target{URL: u, Transport: transport}, nil
}

// normalizeHost rewrites an internationalized host name to punycode in place.
func normalizeHost(u *url.URL) error {
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(ascii, port)
	} else {
		u.Host = ascii
	}
	return nil
}

// allows reports whether host equals, or is a subdomain of, an allowlist entry.
func (r *Resolver) allows(host string) bool {
	if len(r.allowed) == 0 {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, a := range r.allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// OpenRelay reports whether the resolver admits every host.
func (r *Resolver) OpenRelay() bool {
	return len(r.allowed) == 0
}

// Link returns the relay URL that proxies abs. A positive hops value is
// carried along so the next request knows how deep the redirect chain is.
func Link(abs string, hops int) string {
	loc := Endpoint + "?" + ParamURL + "=" + url.QueryEscape(abs)
	if hops > 0 {
		loc += "&" + ParamHops + "=" + strconv.Itoa(hops)
	}
	return loc
}

// ParseHops reads the hops parameter. Missing, malformed or negative values count as 0.
func ParseHops(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
