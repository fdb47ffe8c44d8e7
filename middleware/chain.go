package middleware

import "net/http"

// Named is one step of a middleware chain. Name identifies the step in
// logs and tests; it has no effect on behaviour.
type Named struct {
	Name    string
	Handler func(http.Handler) http.Handler
}

// Chain wraps h with list so that list[0] runs first. Steps with a nil
// Handler are skipped.
func Chain(h http.Handler, list ...Named) http.Handler {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Handler == nil {
			continue
		}
		h = list[i].Handler(h)
	}
	return h
}

// Names returns the step names in order.
func Names(list []Named) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Name
	}
	return out
}

// Handlers unwraps list for routers that take plain middleware funcs,
// such as chi's Use.
func Handlers(list []Named) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(list))
	for _, m := range list {
		if m.Handler != nil {
			out = append(out, m.Handler)
		}
	}
	return out
}
