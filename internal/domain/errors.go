package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline and query services. Callers
// wrap them with context and match with errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")
	ErrNoOverlap      = errors.New("source does not overlap target extent")
	ErrGridMismatch   = errors.New("rasters are not co-registered")
	ErrStepFailed     = errors.New("pipeline step failed")
)

func invalidCoordinate(name string, v, limit float64) error {
	return fmt.Errorf("%w: %s %v outside [-%v, %v]", ErrInvalidInput, name, v, limit, limit)
}
