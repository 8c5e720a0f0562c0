// Package router is a thin layer over net/http's ServeMux that adds
// middleware chaining. The gateway exposes a handful of checkout and
// webhook routes, so the 1.22 method-qualified ServeMux patterns cover
// everything without pulling in a routing framework.
package router

import (
	"net/http"
	"slices"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Router registers method-qualified patterns on a ServeMux and runs a
// shared middleware chain around every handler.
type Router struct {
	mux   *http.ServeMux
	chain []Middleware
}

// New returns a Router whose chain executes, in the order given, around
// every registered handler.
func New(chain ...Middleware) *Router {
	return &Router{mux: http.NewServeMux(), chain: chain}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Get registers a GET route. Route-level middleware runs after the
// global chain.
func (r *Router) Get(pattern string, handler http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, mw...)
}

// Post registers a POST route. Route-level middleware runs after the
// global chain.
func (r *Router) Post(pattern string, handler http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, mw...)
}

// Handle registers any handler under an explicit method. Used for
// handlers that arrive as http.Handler rather than HandlerFunc, such
// as the metrics endpoint.
func (r *Router) Handle(method, pattern string, handler http.Handler, mw ...Middleware) {
	r.mux.Handle(method+" "+pattern, r.wrap(handler, mw))
}

// Group returns a Router that shares this Router's mux with extra
// middleware appended to the chain. Routes registered on the group
// still live in the parent's pattern space.
func (r *Router) Group(mw ...Middleware) *Router {
	return &Router{mux: r.mux, chain: append(slices.Clone(r.chain), mw...)}
}

func (r *Router) wrap(handler http.Handler, mw []Middleware) http.Handler {
	all := append(slices.Clone(r.chain), mw...)

	// Wrap innermost-first so the chain executes in registration order.
	wrapped := handler
	for i := len(all) - 1; i >= 0; i-- {
		wrapped = all[i](wrapped)
	}
	return wrapped
}
