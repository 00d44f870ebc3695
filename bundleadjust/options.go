package bundleadjust

import (
	"encoding/json"
	"math"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Options control a Refine run.
type Options struct {
	// MaxIterations bounds the number of outer iterations.
	MaxIterations int `json:"max_iterations"`
	// AbsoluteTolerance stops the run once the mean squared reprojection error per observation,
	// in pixels squared, falls below it.
	AbsoluteTolerance float64 `json:"absolute_tolerance"`
	// RelativeTolerance stops the run once an accepted step improves the error by too little.
	RelativeTolerance float64 `json:"relative_tolerance"`
	// FixedViewIDs lists views whose poses are held constant.
	FixedViewIDs []int `json:"fixed_view_ids,omitempty"`
	// PointsAreUndistorted means observations have already been corrected for lens distortion.
	PointsAreUndistorted bool `json:"points_are_undistorted"`
	// Evaluator overrides the reprojection model. When nil a ReprojectionEvaluator is used.
	Evaluator Evaluator `json:"-"`
}

// DefaultOptions returns the options Refine uses when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		MaxIterations:     50,
		AbsoluteTolerance: 1,
		RelativeTolerance: 1e-5,
	}
}

// NewOptionsFromJSON layers the given JSON over DefaultOptions and validates the result.
func NewOptionsFromJSON(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := json.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "error parsing bundle adjustment options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// OptionsSchema describes the JSON accepted by NewOptionsFromJSON.
func OptionsSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Options{})
}

// Validate checks that the options describe a runnable configuration.
func (opts Options) Validate() error {
	var err error
	if opts.MaxIterations < 1 {
		err = multierr.Append(err, newInvalidInputError("max_iterations must be positive, got %d", opts.MaxIterations))
	}
	if !isNonNegative(opts.AbsoluteTolerance) {
		err = multierr.Append(err, newInvalidInputError("absolute_tolerance must be a non-negative number, got %v",
			opts.AbsoluteTolerance))
	}
	if !isNonNegative(opts.RelativeTolerance) {
		err = multierr.Append(err, newInvalidInputError("relative_tolerance must be a non-negative number, got %v",
			opts.RelativeTolerance))
	}
	return err
}

func (opts Options) evaluator() Evaluator {
	if opts.Evaluator != nil {
		return opts.Evaluator
	}
	return ReprojectionEvaluator{PointsAreUndistorted: opts.PointsAreUndistorted}
}

func isNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
