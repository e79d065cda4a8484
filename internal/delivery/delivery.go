// Package delivery hands finished mission reports back to the requester.
package delivery

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// Deliverer sends a rendered report to the requester's origin.
type Deliverer interface {
	Deliver(ctx context.Context, origin models.Origin, displayKey, text string) error
}

// Func adapts a function to Deliverer.
type Func func(ctx context.Context, origin models.Origin, displayKey, text string) error

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, origin models.Origin, displayKey, text string) error {
	return f(ctx, origin, displayKey, text)
}

// LogDeliverer writes reports to a logger.
type LogDeliverer struct {
	logger hclog.Logger
}

// NewLogDeliverer creates a LogDeliverer.
func NewLogDeliverer(logger hclog.Logger) *LogDeliverer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogDeliverer{logger: logger.Named("delivery")}
}

// Deliver logs the report at info level.
func (d *LogDeliverer) Deliver(_ context.Context, origin models.Origin, displayKey, text string) error {
	d.logger.Info("mission report",
		"channel", origin.Channel,
		"account", origin.Account,
		"thread", origin.Thread,
		"display_key", displayKey,
		"report", text,
	)
	return nil
}

// Multi delivers to every Deliverer and joins their errors.
type Multi []Deliverer

// Deliver calls every deliverer even when an earlier one fails.
func (m Multi) Deliver(ctx context.Context, origin models.Origin, displayKey, text string) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, origin, displayKey, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Deliverer = Func(nil)
	_ Deliverer = (*LogDeliverer)(nil)
	_ Deliverer = Multi(nil)
)
