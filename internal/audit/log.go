package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskgate.dev/internal/auth"
	"taskgate.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Entry is one audit record.
type Entry struct {
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Sink receives audit entries in addition to the structured log.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
	Close() error
}

var (
	sinkMu sync.RWMutex
	sink   Sink
)

// SetSink installs s as the secondary destination for audit entries and
// returns the previously installed sink. A nil s disables forwarding.
func SetSink(s Sink) Sink {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	prev := sink
	sink = s
	return prev
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
// Sink failures are logged and do not fail the caller.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := Entry{
		TS:        time.Now().UTC(),
		Type:      "audit",
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry.UserID = userID
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}

	obs.Logger().Info("audit",
		zap.String("type", entry.Type),
		zap.String("event", entry.Event),
		zap.String("request_id", entry.RequestID),
		zap.String("user_id", entry.UserID),
		zap.Any("fields", entry.Fields),
	)

	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s != nil {
		if err := s.Publish(ctx, entry); err != nil {
			obs.Logger().Warn("audit sink publish failed", zap.String("event", event), zap.Error(err))
		}
	}
	return nil
}
