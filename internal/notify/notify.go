// Package notify holds the status message posters that are not backed by a
// message broker.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/batch"
)

// Log writes every message to a logger. It is the default poster for local
// runs.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Post(ctx context.Context, message string) error {
	l.Logger.Info("notification", zap.String("message", message))
	return nil
}

// Multi delivers a message to every poster and joins their errors.
type Multi []batch.Poster

func (m Multi) Post(ctx context.Context, message string) error {
	var errs []error
	for _, p := range m {
		if err := p.Post(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
