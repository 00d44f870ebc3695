// Package bundleadjust jointly refines camera poses and 3D points to minimize reprojection error,
// using a Levenberg-Marquardt controller over normal equations reduced with the Schur complement.
package bundleadjust

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"go.viam.com/sba/logging"
	"go.viam.com/sba/rimage/transform"
)

// Refine adjusts points and poses so that the points reproject onto their observations.
//
// tracks[i] holds the observations of points[i]. intrinsics holds either one camera model shared by
// every view or one model per pose, in pose order. The inputs are never modified.
//
// A non-nil error is returned for invalid inputs, in which case no work is done, and when ctx is
// done before the run finishes, in which case the Result holds the last accepted iterate.
func Refine(
	ctx context.Context,
	points []r3.Vector,
	poses []PoseRecord,
	tracks []Track,
	intrinsics []*transform.PinholeCameraModel,
	opts Options,
	logger logging.Logger,
) (*Result, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("bundleadjust")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p, err := newProblem(points, poses, tracks, intrinsics, opts, logger)
	if err != nil {
		return nil, err
	}
	logger.Infow("starting bundle adjustment",
		"points", p.numPoints,
		"views", p.numViews,
		"observations", p.visibility.Count(),
		"fixed_views", len(lo.Uniq(opts.FixedViewIDs)),
	)

	run := newLMRun(p, opts, logger)
	reason, runErr := run.run(ctx)
	if run.ne == nil {
		return nil, runErr
	}

	result := p.result(run, reason)
	logger.Infow("bundle adjustment finished",
		"reason", reason.String(),
		"iterations", result.Iterations,
		"initial_error", result.InitialError,
		"final_error", result.FinalError,
	)
	return result, runErr
}

func (p *problem) result(run *lmRun, reason TerminationReason) *Result {
	points, poses := p.outputs(run.x)
	errs := p.reprojectionErrors(run.evals)
	return &Result{
		Points:             points,
		Poses:              poses,
		ReprojectionErrors: errs,
		ErrorsByVisibility: p.errorsByVisibility(errs),
		Termination:        reason,
		Iterations:         run.iterations,
		InitialError:       run.initialError,
		FinalError:         run.ne.squaredError,
		History:            run.history,
	}
}

// errorsByVisibility groups per point errors by how many views observe each point.
func (p *problem) errorsByVisibility(errs []float64) map[int]float64 {
	groups := lo.GroupBy(lo.Range(p.numPoints), p.visibility.RowCount)
	out := make(map[int]float64, len(groups))
	for count, idx := range groups {
		mean, err := stats.Mean(lo.Map(idx, func(i, _ int) float64 { return errs[i] }))
		if err != nil {
			continue
		}
		out[count] = mean
	}
	return out
}
