// Package notify delivers verification codes to phone numbers out of band.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Receipt reports the outcome of a notification.
type Receipt struct {
	Delivered   bool
	ReferenceID string
}

// Notifier sends message to destination.
type Notifier interface {
	Notify(ctx context.Context, destination, message string) (Receipt, error)
}

// Log is a development notifier that writes messages to the log and always
// reports delivery.
type Log struct {
	log *zap.Logger
}

// NewLog constructs a log notifier.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

// Notify logs the message.
func (n *Log) Notify(_ context.Context, destination, message string) (Receipt, error) {
	n.log.Info("notify (log transport)",
		zap.String("to", destination),
		zap.String("message", message),
	)
	return Receipt{Delivered: true, ReferenceID: "log"}, nil
}
