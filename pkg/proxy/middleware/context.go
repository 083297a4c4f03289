package middleware

import (
	"context"
	"time"
)

type contextKey string

// StartTimeKey holds the time LoggingMiddleware first saw the request.
const StartTimeKey contextKey = "start_time"

// GetStartTime returns the time the request entered the middleware stack,
// or the zero time when LoggingMiddleware did not run.
func GetStartTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(StartTimeKey).(time.Time)
	return t
}
