package bundleadjust

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/sba/spatialmath"
)

// PoseRecord is the pose of one view in world coordinates: Orientation rotates camera axes into the
// world frame and Location is the camera centre.
type PoseRecord struct {
	ViewID      int                         `json:"view_id"`
	Orientation *spatialmath.RotationMatrix `json:"-"`
	Location    r3.Vector                   `json:"location"`
}

// Track holds the observations of one 3D point. ViewIDs[k] is the view in which Points[k] was seen.
type Track struct {
	ViewIDs []int      `json:"view_ids"`
	Points  []r2.Point `json:"points"`
}

// PoseParams are the six extrinsic parameters of a view as optimized: a rotation vector followed by
// a translation, mapping world points into the camera frame as R(omega)*X + t.
type PoseParams [6]float64

// Rotation returns the rotation vector part of the pose.
func (pp PoseParams) Rotation() r3.Vector {
	return r3.Vector{X: pp[0], Y: pp[1], Z: pp[2]}
}

// Translation returns the translation part of the pose.
func (pp PoseParams) Translation() r3.Vector {
	return r3.Vector{X: pp[3], Y: pp[4], Z: pp[5]}
}

// PoseParamsFromRecord converts a world pose into optimizer parameters. The orientation must be set.
func PoseParamsFromRecord(pose PoseRecord) PoseParams {
	rot := pose.Orientation.Transpose()
	w := spatialmath.RotationMatrixToVector(rot)
	t := rot.Mul(pose.Location).Mul(-1)
	return PoseParams{w.X, w.Y, w.Z, t.X, t.Y, t.Z}
}

// Record converts optimizer parameters back to a world pose for the given view.
func (pp PoseParams) Record(viewID int) PoseRecord {
	rot := spatialmath.RotationVectorToMatrix(pp.Rotation())
	orientation := rot.Transpose()
	return PoseRecord{
		ViewID:      viewID,
		Orientation: orientation,
		Location:    orientation.Mul(pp.Translation()).Mul(-1),
	}
}

// TerminationReason is the state of the Levenberg-Marquardt controller when a run ends.
type TerminationReason int

// The controller is Running until it reaches one of the terminal reasons.
const (
	Running TerminationReason = iota
	SmallGradient
	SmallStep
	MaxIterationsReached
	SmallRelativeImprovement
	SmallAbsoluteError
	FailedToConverge
)

func (r TerminationReason) String() string {
	switch r {
	case Running:
		return "running"
	case SmallGradient:
		return "small gradient"
	case SmallStep:
		return "small step"
	case MaxIterationsReached:
		return "max iterations reached"
	case SmallRelativeImprovement:
		return "small relative improvement"
	case SmallAbsoluteError:
		return "small absolute error"
	case FailedToConverge:
		return "failed to converge"
	default:
		return "unknown"
	}
}

// Converged reports whether the run ended on one of the tolerance tests.
func (r TerminationReason) Converged() bool {
	switch r { //nolint:exhaustive
	case SmallGradient, SmallStep, SmallRelativeImprovement, SmallAbsoluteError:
		return true
	default:
		return false
	}
}

// IterationStats describes one accepted outer iteration.
type IterationStats struct {
	Iteration         int
	ErrorBefore       float64
	ErrorAfter        float64
	Damping           float64
	RejectedTrials    int
	ConditionEstimate float64
}

// Result is the outcome of Refine.
type Result struct {
	Points []r3.Vector
	Poses  []PoseRecord
	// ReprojectionErrors[i] is the mean pixel distance between the projections of point i and its
	// observations.
	ReprojectionErrors []float64
	// ErrorsByVisibility maps a number of views to the mean reprojection error of the points seen in
	// exactly that many views.
	ErrorsByVisibility map[int]float64
	Termination        TerminationReason
	Iterations         int
	// InitialError and FinalError are total squared reprojection errors in pixels squared.
	InitialError float64
	FinalError   float64
	History      []IterationStats
}
