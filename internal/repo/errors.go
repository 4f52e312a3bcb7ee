package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/BuzzLyutic/family-hub/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorBackend  = errors.New("backend error")
	ErrValidation = model.ErrValidation
)

// backendError оборачивает ошибку драйвера, не трогая уже классифицированные ошибки
func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrorNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrorBackend) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrorBackend, op, err)
}

func notFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrorNotFound)
}

// BatchError combines the per-item failures of a batch, or returns nil.
func BatchError(results []BatchResult) error {
	var err error
	for _, r := range results {
		if r.Err != nil {
			err = multierr.Append(err, fmt.Errorf("task %s: %w", r.ID, r.Err))
		}
	}
	return err
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
