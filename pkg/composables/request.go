package composables

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/cultivarhq/cultivar/pkg/constants"
)

var (
	ErrNoAgent = errors.New("no acting agent found in context")
)

// WithAgent stores the acting user's id for the duration of a command.
// A zero id means an anonymous caller.
func WithAgent(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, constants.AgentKey, userID)
}

// UseAgent returns the acting user's id from the context.
func UseAgent(ctx context.Context) (int64, error) {
	id, ok := ctx.Value(constants.AgentKey).(int64)
	if !ok {
		return 0, ErrNoAgent
	}
	return id, nil
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// Panics when no logger was attached; commands never run without one.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(constants.LoggerKey)
	if logger == nil {
		panic("logger not found")
	}
	return logger.(*logrus.Entry)
}
