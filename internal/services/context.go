package services

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	doorbellKey contextKey = "doorbell"
	eventIDKey  contextKey = "event_id"
	cycleIDKey  contextKey = "cycle_id"
)

// NewCycleID returns a fresh correlation identifier for one polling cycle.
func NewCycleID() string {
	return uuid.NewString()
}

// WithCycleID annotates context with the polling cycle correlation identifier.
func WithCycleID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleIDFromContext extracts the cycle identifier if present.
func CycleIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(cycleIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithDoorbell annotates context with the doorbell name being processed.
func WithDoorbell(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, doorbellKey, name)
}

// DoorbellFromContext returns the doorbell name if present.
func DoorbellFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(doorbellKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithEventID annotates context with the cloud file identifier of the event
// being processed.
func WithEventID(ctx context.Context, fileID string) context.Context {
	if fileID == "" {
		return ctx
	}
	return context.WithValue(ctx, eventIDKey, fileID)
}

// EventIDFromContext returns the event file identifier if present.
func EventIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(eventIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
