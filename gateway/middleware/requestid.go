package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID between clients, the gateway
// and the upstream node.
const RequestIDHeader = "X-Request-ID"

const ContextKeyRequestID contextKey = "gateway.requestID"

const maxRequestIDLength = 128

// RequestID tags every request with a correlation ID. A caller-supplied ID
// is kept when it is printable ASCII of reasonable length, otherwise a fresh
// UUID is minted. The ID is echoed on the response and stored in the request
// context for logging and tracing.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeRequestID(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		// Rewrite the inbound header so proxied upstream calls carry the
		// same ID the gateway logs.
		r.Header.Set(RequestIDHeader, id)
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sanitizeRequestID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxRequestIDLength {
		return ""
	}
	for _, ch := range trimmed {
		if ch < 0x21 || ch > 0x7e {
			return ""
		}
	}
	return trimmed
}

// RequestIDFromContext returns the correlation ID stored by RequestID, or an
// empty string when the middleware did not run.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
