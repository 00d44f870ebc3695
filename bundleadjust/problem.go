package bundleadjust

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/sba/logging"
	"go.viam.com/sba/rimage/transform"
	"go.viam.com/sba/spatialmath"
	"go.viam.com/sba/utils"
)

const (
	poseSize  = 6
	pointSize = 3
)

type observation struct {
	point int
	view  int
	pixel r2.Point
}

// problem is the fixed layout a run works on. The parameter vector holds 6 scalars per view followed
// by 3 scalars per point.
type problem struct {
	numPoints int
	numViews  int
	obs       []observation
	// pointObs[i] lists the indices into obs of the observations of point i.
	pointObs   [][]int
	visibility *Visibility
	cameras    []*transform.PinholeCameraModel
	fixed      []bool
	evaluator  Evaluator
	poses      []PoseRecord
	initial    []float64
}

// newProblem validates the inputs and lays them out for the optimizer. Nothing is mutated when
// validation fails and every violation found is reported.
func newProblem(
	points []r3.Vector,
	poses []PoseRecord,
	tracks []Track,
	intrinsics []*transform.PinholeCameraModel,
	opts Options,
	logger logging.Logger,
) (*problem, error) {
	if err := validateInputs(points, poses, tracks, intrinsics, opts); err != nil {
		return nil, err
	}

	viewIndex := make(map[int]int, len(poses))
	for j, pose := range poses {
		viewIndex[pose.ViewID] = j
	}
	p := &problem{
		numPoints:  len(points),
		numViews:   len(poses),
		pointObs:   make([][]int, len(points)),
		visibility: newVisibility(len(points), len(poses)),
		cameras:    make([]*transform.PinholeCameraModel, len(poses)),
		fixed:      make([]bool, len(poses)),
		evaluator:  opts.evaluator(),
		poses:      append([]PoseRecord(nil), poses...),
	}
	for j := range poses {
		if len(intrinsics) == 1 {
			p.cameras[j] = intrinsics[0]
		} else {
			p.cameras[j] = intrinsics[j]
		}
	}
	for _, id := range opts.FixedViewIDs {
		p.fixed[viewIndex[id]] = true
	}
	for i, track := range tracks {
		if len(track.ViewIDs) == 1 {
			logger.Warnw("point is observed in a single view and cannot be triangulated", "point", i,
				"view_id", track.ViewIDs[0])
		}
		for k, id := range track.ViewIDs {
			j := viewIndex[id]
			p.visibility.set(i, j)
			p.pointObs[i] = append(p.pointObs[i], len(p.obs))
			p.obs = append(p.obs, observation{point: i, view: j, pixel: track.Points[k]})
		}
	}

	p.initial = make([]float64, p.numParams())
	for j, pose := range poses {
		pp := PoseParamsFromRecord(pose)
		copy(p.initial[j*poseSize:], pp[:])
	}
	for i, pt := range points {
		off := p.pointOffset(i)
		p.initial[off], p.initial[off+1], p.initial[off+2] = pt.X, pt.Y, pt.Z
	}
	return p, nil
}

func validateInputs(
	points []r3.Vector,
	poses []PoseRecord,
	tracks []Track,
	intrinsics []*transform.PinholeCameraModel,
	opts Options,
) error {
	var err error
	if len(poses) == 0 {
		err = multierr.Append(err, newInvalidInputError("at least one pose is required"))
	}
	if len(points) != len(tracks) {
		err = multierr.Append(err, newInvalidInputError("got %d points but %d tracks", len(points), len(tracks)))
	}
	if len(intrinsics) != 1 && len(intrinsics) != len(poses) {
		err = multierr.Append(err, newInvalidInputError(
			"expected 1 shared camera model or one per pose (%d), got %d", len(poses), len(intrinsics)))
	}
	for k, cam := range intrinsics {
		if cerr := cam.CheckValid(); cerr != nil {
			err = multierr.Append(err, newInvalidInputError("camera model %d: %v", k, cerr))
		}
	}

	viewIDs := lo.Map(poses, func(pose PoseRecord, _ int) int { return pose.ViewID })
	for _, dup := range lo.FindDuplicates(viewIDs) {
		err = multierr.Append(err, newInvalidInputError("view id %d is used by more than one pose", dup))
	}
	known := lo.SliceToMap(viewIDs, func(id int) (int, struct{}) { return id, struct{}{} })
	for _, pose := range poses {
		if pose.Orientation == nil {
			err = multierr.Append(err, newInvalidInputError("pose of view %d has no orientation", pose.ViewID))
		} else if _, rerr := spatialmath.NewRotationMatrix(pose.Orientation.Data()); rerr != nil {
			err = multierr.Append(err, newInvalidInputError("pose of view %d: %v", pose.ViewID, rerr))
		}
		if !isFiniteVector(pose.Location) {
			err = multierr.Append(err, newInvalidInputError("pose of view %d has a non-finite location", pose.ViewID))
		}
	}
	for _, id := range opts.FixedViewIDs {
		if _, ok := known[id]; !ok {
			err = multierr.Append(err, newInvalidInputError("fixed view id %d does not name a pose", id))
		}
	}

	for i, pt := range points {
		if !isFiniteVector(pt) {
			err = multierr.Append(err, newInvalidInputError("point %d is not finite", i))
		}
	}
	for i, track := range tracks {
		if len(track.ViewIDs) == 0 {
			err = multierr.Append(err, newInvalidInputError("track %d has no observations", i))
			continue
		}
		if len(track.ViewIDs) != len(track.Points) {
			err = multierr.Append(err, newInvalidInputError("track %d has %d view ids but %d observations",
				i, len(track.ViewIDs), len(track.Points)))
			continue
		}
		for _, dup := range lo.FindDuplicates(track.ViewIDs) {
			err = multierr.Append(err, newInvalidInputError("track %d observes view %d more than once", i, dup))
		}
		for k, id := range track.ViewIDs {
			if _, ok := known[id]; !ok {
				err = multierr.Append(err, newInvalidInputError("track %d references unknown view %d", i, id))
			}
			if px := track.Points[k]; !isFinite(px.X) || !isFinite(px.Y) {
				err = multierr.Append(err, newInvalidInputError("track %d has a non-finite observation in view %d", i, id))
			}
		}
	}
	return err
}

func (p *problem) numParams() int {
	return poseSize*p.numViews + pointSize*p.numPoints
}

func (p *problem) pointOffset(i int) int {
	return poseSize*p.numViews + pointSize*i
}

func (p *problem) pose(x []float64, j int) PoseParams {
	var pp PoseParams
	copy(pp[:], x[j*poseSize:(j+1)*poseSize])
	return pp
}

func (p *problem) point(x []float64, i int) r3.Vector {
	off := p.pointOffset(i)
	return r3.Vector{X: x[off], Y: x[off+1], Z: x[off+2]}
}

// evaluate computes every observation's residual and Jacobian blocks at x. Pose derivatives of fixed
// views are zeroed so those views never receive an update.
func (p *problem) evaluate(ctx context.Context, x []float64) ([]Evaluation, error) {
	evals := make([]Evaluation, len(p.obs))
	err := utils.GroupWorkParallel(
		ctx,
		len(p.obs),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				o := p.obs[workNum]
				ev := p.evaluator.Evaluate(p.point(x, o.point), p.pose(x, o.view), o.pixel, p.cameras[o.view])
				if p.fixed[o.view] {
					ev.DPose = [2][6]float64{}
				}
				evals[workNum] = ev
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return evals, nil
}

// outputs converts a parameter vector back to points and world poses. A view whose parameters are
// unchanged, or that is fixed, returns its input record as is.
func (p *problem) outputs(x []float64) ([]r3.Vector, []PoseRecord) {
	points := make([]r3.Vector, p.numPoints)
	for i := range points {
		points[i] = p.point(x, i)
	}
	poses := make([]PoseRecord, p.numViews)
	for j, in := range p.poses {
		start, end := j*poseSize, (j+1)*poseSize
		if p.fixed[j] || sameBits(x[start:end], p.initial[start:end]) {
			poses[j] = in
			continue
		}
		poses[j] = p.pose(x, j).Record(in.ViewID)
	}
	return points, poses
}

// reprojectionErrors returns the mean pixel distance per point from the given evaluations.
func (p *problem) reprojectionErrors(evals []Evaluation) []float64 {
	out := make([]float64, p.numPoints)
	for i, obsIdx := range p.pointObs {
		var sum float64
		for _, k := range obsIdx {
			sum += math.Hypot(evals[k].Residual[0], evals[k].Residual[1])
		}
		out[i] = sum / float64(len(obsIdx))
	}
	return out
}

func sameBits(a, b []float64) bool {
	for k := range a {
		if math.Float64bits(a[k]) != math.Float64bits(b[k]) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isFiniteVector(v r3.Vector) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}
