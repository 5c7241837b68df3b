package shim

import "github.com/jingkaihe/mocklock/pkg/reqkey"

// NormalizeURL resolves raw against origin and canonicalizes it for
// matching. Unparseable input is returned unchanged.
func NormalizeURL(origin, raw string) string {
	return reqkey.URL(origin, raw)
}

// NormalizeMethod uppercases m, defaulting to GET.
func NormalizeMethod(m string) string {
	return reqkey.Method(m)
}
