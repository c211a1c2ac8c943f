package kafka

import (
	"context"
	"fmt"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

// Intake is the part of the dispatch engine fed from Kafka.
type Intake interface {
	Submit(ctx context.Context, r domain.Request) (domain.Request, error)
	UpdateLocation(ctx context.Context, driverID string, s domain.LocationSample) (domain.Driver, error)
}

// NewIntakeHandler routes intake events to the engine. Domain rejections are
// permanent so the message is skipped; anything else is retried.
func NewIntakeHandler(in Intake) HandleFunc {
	return func(ctx context.Context, ev Event) error {
		var err error
		switch {
		case ev.Request != nil:
			_, err = in.Submit(ctx, *ev.Request)
		case ev.Location != nil:
			_, err = in.UpdateLocation(ctx, ev.DriverID, *ev.Location)
		default:
			return Permanent(fmt.Errorf("empty event %q", ev.Type))
		}
		if err != nil && apperr.IsDomain(err) {
			return Permanent(err)
		}
		return err
	}
}
