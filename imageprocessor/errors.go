package imageprocessor

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is wrapped by every InputError.
	ErrInvalidInput = errors.New("invalid input image")
	// ErrInvalidKernel is returned for even or non-positive smoothing kernels.
	ErrInvalidKernel = errors.New("gaussian kernel dimensions must be positive and odd")
	// ErrNoObject reports that segmentation found no qualifying contour.
	ErrNoObject = errors.New("no object detected")
)

// InputError describes an image rejected before it entered the pipeline.
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidInput, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, e.Reason)
}

func (e *InputError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

func inputErrorf(err error, format string, args ...interface{}) error {
	return &InputError{Reason: fmt.Sprintf(format, args...), Err: err}
}
