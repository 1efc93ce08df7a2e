package usecase

import (
	"context"
	"errors"

	"intelliconn/domain/dto"
	"intelliconn/domain/repository"
)

// FanOut delivers every event to each sink and joins their errors, so one
// broken sink does not starve the others.
type FanOut []repository.IEventPublisher

func (f FanOut) Publish(ctx context.Context, ev dto.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
