package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/classroom-attendance/internal/persistence"
)

// runTx executes fn in a store transaction and maps whatever escapes it.
func runTx(ctx context.Context, store persistence.Store, op string, fn func(q persistence.Queries) error) error {
	if store == nil {
		return &InfrastructureError{Op: op, Err: errors.New("store not configured")}
	}
	return mapStoreError(op, store.WithTx(ctx, fn))
}

// runView executes read-only fn and maps whatever escapes it.
func runView(ctx context.Context, store persistence.Store, op string, fn func(q persistence.Queries) error) error {
	if store == nil {
		return &InfrastructureError{Op: op, Err: errors.New("store not configured")}
	}
	return mapStoreError(op, store.View(ctx, fn))
}

// missing turns a persistence not-found into a NotFoundError for entity.
func missing(entity, id string, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return notFound(entity, id)
	}
	return err
}

func isDomainError(err error) bool {
	var (
		vErr   *ValidationError
		nfErr  *NotFoundError
		polErr *PolicyError
		infErr *InfrastructureError
	)
	return errors.As(err, &vErr) || errors.As(err, &nfErr) || errors.As(err, &polErr) ||
		errors.As(err, &infErr) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAlreadyExists)
}

// mapStoreError keeps domain errors and translates persistence sentinels.
// Anything else is an infrastructure failure.
func mapStoreError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("input", err.Error())
		return vErr
	case errors.Is(err, persistence.ErrNotFound):
		return notFound("record", "")
	}
	return &InfrastructureError{Op: op, Err: err}
}
