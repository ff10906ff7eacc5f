// Package shield provides the HTTP middleware stack for the visreg API:
// security headers, request body limits and per-request trace ids.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(32 << 20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware applied to every API route, outermost
// first: SecurityHeaders → MaxBody → TraceID.
func DefaultStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
