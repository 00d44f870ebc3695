package bundleadjust

import (
	"github.com/pkg/errors"
)

// ErrInvalidInput is wrapped by every precondition failure reported by Refine. Numerical trouble
// during a run is never an error; it is reported through the TerminationReason.
var ErrInvalidInput = errors.New("invalid bundle adjustment input")

func newInvalidInputError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
