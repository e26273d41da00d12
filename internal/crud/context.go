package crud

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Context carries the per-call actor identity, the timestamp to stamp onto
// audit fields and the structured logger. The timestamp is caller-supplied so
// that every entry of one batch operation carries the same value. The engine
// never retains a Context beyond the call it was passed to.
type Context struct {
	context.Context

	UserID    string
	Now       time.Time
	RequestID string
	Log       *slog.Logger
}

// NewContext builds a request-scoped Context. A zero now defaults to the
// current time, a nil logger to slog.Default(). The request id correlates the
// "requested" and "executed" log events of one call.
func NewContext(ctx context.Context, userID string, now time.Time, log *slog.Logger) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if now.IsZero() {
		now = time.Now()
	}
	if log == nil {
		log = slog.Default()
	}
	reqID := uuid.NewString()
	return Context{
		Context:   ctx,
		UserID:    userID,
		Now:       now,
		RequestID: reqID,
		Log:       log.With("reqId", reqID),
	}
}
