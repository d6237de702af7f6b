package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type guildIDKey struct{}
type actorIDKey struct{}
type sessionIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithGuildID attaches the tenant guild id to the context.
func WithGuildID(ctx context.Context, guildID int64) context.Context {
	return context.WithValue(ctx, guildIDKey{}, guildID)
}

// GuildID extracts the tenant guild id from context. Returns 0 if absent.
func GuildID(ctx context.Context) int64 {
	if v, ok := ctx.Value(guildIDKey{}).(int64); ok {
		return v
	}
	return 0
}

// WithActorID attaches the acting member's postal id to the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorID extracts the acting member's postal id from context. Returns "" if absent.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSessionID attaches a wizard session_id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts a wizard session_id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewSessionID generates a new wizard session_id.
func NewSessionID() string {
	return uuid.NewString()
}
