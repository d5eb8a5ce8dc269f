// CLAUDE:SUMMARY Transport-agnostic endpoint and middleware primitives shared by HTTP and MCP surfaces.
// Package kit holds the small glue layer between transports and the
// conversion service: an Endpoint abstraction with composable
// middleware, context accessors for request-scoped metadata, and MCP
// tool registration.
package kit

import "context"

// Endpoint is a single operation exposed over a transport. Requests
// and responses are typed by the caller; transports decode into the
// concrete type before invoking.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is outermost.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}
