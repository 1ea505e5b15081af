package log

import (
	"context"

	"github.com/go-logr/logr"
)

// verbosity levels used across the engine.
const (
	// LevelDebug is used for per delegation traces.
	LevelDebug = 1
	// LevelTrace is used for per batch / per entry point details.
	LevelTrace = 2
)

func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

func WithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// WithValues returns ctx whose logger carries keysAndValues on every entry.
func WithValues(ctx context.Context, keysAndValues ...interface{}) context.Context {
	logger := FromContext(ctx).WithValues(keysAndValues...)
	return logr.NewContext(ctx, logger)
}
