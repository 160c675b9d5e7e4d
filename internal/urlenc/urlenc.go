// Package urlenc implements the canonical percent-encoding expected by the
// API for query strings, form bodies and OAuth signatures (RFC 3986).
package urlenc

import (
	"net/url"
	"sort"
	"strings"
)

// Escape percent-encodes every byte outside the RFC 3986 unreserved set.
// Unlike url.QueryEscape a space becomes %20, and ! * ' ( ) are always escaped.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Encode renders values as key=value pairs joined by '&', sorted by key and
// escaped with Escape. Multiple values for one key keep their order.
func Encode(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		ek := Escape(k)
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(Escape(v))
		}
	}
	return b.String()
}
