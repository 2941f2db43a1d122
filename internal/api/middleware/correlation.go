package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderCorrelationID carries the correlation id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationID reads the X-Correlation-ID header from the incoming request,
// generating a UUID when it is absent, stores it on the request context and
// echoes it back so callers can find a job submission in the server logs.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID stored by the middleware.
// Returns an empty string if the middleware was not applied.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// Logger returns base annotated with the request's correlation id.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return base.With(zap.String("correlation_id", id))
	}
	return base
}
