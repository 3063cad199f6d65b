package compute

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrAggregateFunction = errors.New("aggregate function error")
	ErrAllocationFailure = errors.New("allocation failure")
	ErrInvalidState      = errors.New("invalid hash table state")
	ErrNotOwner          = errors.New("hash table is owned by another goroutine")
)

func invalidInputf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}

func invalidStatef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}

func allocationFailure(err error, what string) error {
	return errors.Mark(errors.Wrapf(err, "allocate %s", what), ErrAllocationFailure)
}

func aggregateFailure(err error, name string) error {
	return errors.Mark(errors.Wrapf(err, "aggregate %s", name), ErrAggregateFunction)
}
