package service

import (
	"net/url"
	"strings"

	"split-browser-go/internal/target"
)

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

// resolveRedirect returns the absolute URL an upstream Location points at.
// Absolute values are kept verbatim; anything else is resolved against the
// target that produced it. Locations with stray '%' or control bytes are
// repaired by escaping them, the way browsers tolerate them.
func resolveRedirect(from *target.Target, location string) (string, error) {
	ref, err := url.Parse(location)
	if err == nil && ref.IsAbs() {
		return location, nil
	}
	if err != nil {
		ref, err = url.Parse(repairEscapes(location))
		if err != nil {
			return "", err
		}
	}
	return from.URL.ResolveReference(ref).String(), nil
}

// repairEscapes percent-encodes '%' signs that do not start a valid escape,
// and ASCII control bytes.
func repairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && (i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2])):
			b.WriteString("%25")
		case c < 0x20 || c == 0x7f:
			const hex = "0123456789ABCDEF"
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
