package vstore

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Request headers understood by the HTTP surface.
const (
	RequestIDHeader = "X-Request-ID"
	VersionHeader   = "X-Version-Id"
	ScopeHeader     = "X-Scope-Id"
	ActorHeader     = "X-Actor-Id"
)

type requestIDKeyType struct{}

var requestIDKey requestIDKeyType

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), reqID)))
	})
}
