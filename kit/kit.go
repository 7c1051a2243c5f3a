// Package kit holds the small endpoint plumbing shared by the tool
// transports.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is the transport-agnostic unit of work.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging emits one record per endpoint invocation with its duration and
// outcome.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("endpoint failed", "endpoint", name, "duration", time.Since(start), "error", err)
			} else {
				logger.Debug("endpoint ok", "endpoint", name, "duration", time.Since(start))
			}
			return resp, err
		}
	}
}
