package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("record decode failed")

	// ErrShapeMismatch matches every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNotFound is returned by Build when no file matches the pattern.
	ErrNotFound = errors.New("no record files found")

	// ErrEmptyEpoch is returned by a repeated stream whose pass produced
	// nothing, which would otherwise spin forever.
	ErrEmptyEpoch = errors.New("pass over the data produced no elements")

	// ErrClosed is returned by Yield after Close.
	ErrClosed = errors.New("dataset closed")
)

// DecodeError reports a record that could not be decoded.
type DecodeError struct {
	// Field is the feature at fault, empty when the record itself is malformed.
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%v: field %q: %v", ErrDecode, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func decodeErrorf(field, format string, args ...any) error {
	return &DecodeError{Field: field, Err: errors.Errorf(format, args...)}
}

// ShapeMismatchError reports elements of one batch that cannot be stacked.
type ShapeMismatchError struct {
	// Tensor is "inputs[i]" or "labels[i]".
	Tensor string
	// Index is the position of the offending element within the batch.
	Index     int
	Want, Got shapes.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%v: %s of batch element %d is %s, want %s", ErrShapeMismatch, e.Tensor, e.Index, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrShapeMismatch) true for any ShapeMismatchError.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }
