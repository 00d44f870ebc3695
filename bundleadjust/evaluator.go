package bundleadjust

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/sba/rimage/transform"
	"go.viam.com/sba/spatialmath"
)

// Evaluation is the reprojection residual of one observation and its derivatives.
type Evaluation struct {
	Residual [2]float64
	// DPose is d(Residual)/d(PoseParams).
	DPose [2][6]float64
	// DPoint is d(Residual)/d(point).
	DPoint [2][3]float64
}

// An Evaluator computes the residual and Jacobian blocks of a single observation. Implementations
// must be safe for concurrent use and return identical results for identical inputs.
type Evaluator interface {
	Evaluate(point r3.Vector, pose PoseParams, observed r2.Point, camera *transform.PinholeCameraModel) Evaluation
}

// ReprojectionEvaluator projects points through a pinhole camera with optional Brown-Conrady
// distortion. The residual is the projected pixel minus the observed pixel.
type ReprojectionEvaluator struct {
	PointsAreUndistorted bool
}

// Evaluate implements Evaluator.
func (re ReprojectionEvaluator) Evaluate(
	point r3.Vector,
	pose PoseParams,
	observed r2.Point,
	camera *transform.PinholeCameraModel,
) Evaluation {
	omega := pose.Rotation()
	rot := spatialmath.RotationVectorToMatrix(omega)
	pc := rot.Mul(point).Add(pose.Translation())
	px, dpx := camera.ProjectWithJacobian(pc, !re.PointsAreUndistorted)
	dRot := spatialmath.RotatedPointJacobian(omega, point)

	var ev Evaluation
	ev.Residual = [2]float64{px.X - observed.X, px.Y - observed.Y}
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			var dw, dp float64
			for k := 0; k < 3; k++ {
				dw += dpx[r][k] * dRot[k][c]
				dp += dpx[r][k] * rot.At(k, c)
			}
			ev.DPose[r][c] = dw
			ev.DPose[r][c+3] = dpx[r][c]
			ev.DPoint[r][c] = dp
		}
	}
	return ev
}
