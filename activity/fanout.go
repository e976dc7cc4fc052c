package activity

import (
	"context"
	"errors"

	"tasksetu-api/domain"
)

// Fanout appends every record to each sink in order. All sinks are tried
// even when an earlier one fails; the failures are joined.
type Fanout []domain.ActivitySink

func (f Fanout) Append(ctx context.Context, rec domain.ActivityRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
