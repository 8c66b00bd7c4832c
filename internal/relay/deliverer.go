package relay

import (
	"context"
	"log/slog"
)

// LogDeliverer accepts every forward and hands it to the local delivery
// pipeline by logging it. Deployments with a real push pipeline swap in
// their own Deliverer.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer constructs a LogDeliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Deliver records the forwarded notification and reports a delivered attempt.
func (d *LogDeliverer) Deliver(ctx context.Context, n Notification, dev DeviceDescriptor) (*ForwardResult, error) {
	d.logger.Info("relay delivery",
		slog.String("platform", dev.Platform),
		slog.String("title", n.Title),
		slog.String("topic", n.Topic),
	)
	return &ForwardResult{Delivered: true}, nil
}
