package audit

import (
	"context"
	"time"

	"github.com/peopleops/portal/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context.
// Returns a no-op logger if none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// noOpLogger discards all events
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (l *noOpLogger) Close() error                                { return nil }

// NewNoopLogger returns a logger that discards all events
func NewNoopLogger() Logger {
	return &noOpLogger{}
}

func newEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		ActorID:   contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// LogRoleChange records a role lifecycle event
func LogRoleChange(ctx context.Context, eventType EventType, tenantID, roleID, message string) error {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.TenantID = tenantID
	event.TargetID = roleID
	event.Message = message
	return FromContext(ctx).Log(ctx, event)
}

// LogOverrideChange records an override lifecycle event
func LogOverrideChange(ctx context.Context, eventType EventType, tenantID, userID, permissionCode string) error {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.TenantID = tenantID
	event.TargetID = userID
	event.Resource = permissionCode
	return FromContext(ctx).Log(ctx, event)
}

// LogTenantChange records a tenant lifecycle event
func LogTenantChange(ctx context.Context, eventType EventType, tenantID, message string) error {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.TenantID = tenantID
	event.Message = message
	return FromContext(ctx).Log(ctx, event)
}

// LogAccessDenied records a denied access decision
func LogAccessDenied(ctx context.Context, tenantID, userID, permissionCode, reason string) error {
	event := newEvent(ctx, EventAccessDenied, EventStatusDenied)
	event.TenantID = tenantID
	event.TargetID = userID
	event.Resource = permissionCode
	event.Message = reason
	return FromContext(ctx).Log(ctx, event)
}
