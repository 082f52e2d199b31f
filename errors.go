package patchgan_go

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidConfig Root cause of every field-level configuration violation
var ErrInvalidConfig = errors.New("invalid discriminator configuration")

// InputTooSmallError Returned when a scale would downsample the minimum input size below one spatial unit
type InputTooSmallError struct {
	Scale       int
	LayerCount  int
	MinimumSize int
}

func (e *InputTooSmallError) Error() string {
	return fmt.Sprintf("image size %d is too small to take in discriminator #%d with %d downsampling layers: reduce the number of layers, reduce the number of scales or use bigger images", e.MinimumSize, e.Scale, e.LayerCount)
}

// LayerCountMismatchError Returned when per-scale layer counts do not match the number of scales
type LayerCountMismatchError struct {
	Expected int
	Actual   int
}

func (e *LayerCountMismatchError) Error() string {
	return fmt.Sprintf("number of per-scale layer counts must match the number of discriminators: expected %d, got %d", e.Expected, e.Actual)
}

func invalidf(format string, args ...interface{}) error {
	return errors.Wrap(ErrInvalidConfig, fmt.Sprintf(format, args...))
}
