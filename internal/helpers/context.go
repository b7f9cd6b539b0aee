package helpers

import (
	"context"
)

type contextKey string

func (c contextKey) String() string {
	return "ovirt-backup context key " + string(c)
}

const RunIDKey contextKey = "runID"

// WithRunID returns a copy of ctx carrying the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run id from the context.
// It returns the id and a boolean indicating if it was found.
func GetRunID(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(RunIDKey).(string)
	return runID, ok && runID != ""
}
