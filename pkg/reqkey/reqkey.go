// Package reqkey derives the normalized (url, method) key that rules are
// matched against.
package reqkey

import (
	"net/url"
	"strings"
)

// URL resolves raw against origin and normalizes the result: the scheme
// and host are lowercased and an empty http(s) path becomes "/". When raw
// cannot be parsed or resolved it is returned unchanged.
func URL(origin, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !ref.IsAbs() {
		if origin == "" {
			return raw
		}
		base, err := url.Parse(origin)
		if err != nil || !base.IsAbs() {
			return raw
		}
		ref = base.ResolveReference(ref)
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)
	if (ref.Scheme == "http" || ref.Scheme == "https") && ref.Opaque == "" && ref.Path == "" {
		ref.Path = "/"
	}
	return ref.String()
}

// Method uppercases m, defaulting to GET.
func Method(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return "GET"
	}
	return m
}
