// Package synthetic generates bundle adjustment scenes with known ground truth: a ring of cameras
// looking at a cloud of points, with noisy observations and perturbed starting values.
package synthetic

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sba/bundleadjust"
	"go.viam.com/sba/rimage/transform"
	"go.viam.com/sba/spatialmath"
)

// Config describes a scene.
type Config struct {
	NumViews  int
	NumPoints int
	// Radius of the camera ring around the origin.
	Radius float64
	// Height of the camera ring above the point cloud.
	Height float64
	// PointSpread is the half width of the cube the points are drawn from.
	PointSpread float64
	// PixelNoise is the standard deviation of the noise added to observations.
	PixelNoise float64
	// RotationNoise and LocationNoise perturb the starting poses; PointNoise perturbs the starting
	// points. All are standard deviations.
	RotationNoise float64
	LocationNoise float64
	PointNoise    float64
	// DropRate is the probability of discarding an observation. Every point keeps at least two.
	DropRate float64
	// Camera is shared by every view. DefaultCamera is used when nil.
	Camera *transform.PinholeCameraModel
	Seed   int64
}

// DefaultConfig returns a small scene with moderate noise.
func DefaultConfig() Config {
	return Config{
		NumViews:      6,
		NumPoints:     40,
		Radius:        6,
		Height:        1,
		PointSpread:   1,
		PixelNoise:    0.5,
		RotationNoise: 0.01,
		LocationNoise: 0.05,
		PointNoise:    0.05,
		Seed:          1,
	}
}

// DefaultCamera returns a 640x480 camera with mild distortion.
func DefaultCamera() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
		},
		Distortion: &transform.BrownConrady{RadialK1: -0.05, RadialK2: 0.01, TangentialP1: 0.001, TangentialP2: -0.001},
	}
}

// Scene is a generated problem. Points and Poses are the perturbed starting values to refine.
type Scene struct {
	TruePoints []r3.Vector
	TruePoses  []bundleadjust.PoseRecord
	Points     []r3.Vector
	Poses      []bundleadjust.PoseRecord
	Tracks     []bundleadjust.Track
	Intrinsics []*transform.PinholeCameraModel
}

// NumObservations returns the total number of observations in the scene.
func (s *Scene) NumObservations() int {
	var n int
	for _, t := range s.Tracks {
		n += len(t.ViewIDs)
	}
	return n
}

// Generate builds a scene. The same config always yields the same scene.
func Generate(cfg Config) (*Scene, error) {
	if cfg.NumViews < 2 {
		return nil, errors.Errorf("need at least 2 views, got %d", cfg.NumViews)
	}
	if cfg.NumPoints < 0 {
		return nil, errors.Errorf("negative point count %d", cfg.NumPoints)
	}
	if cfg.Radius <= cfg.PointSpread*math.Sqrt(3) {
		return nil, errors.New("camera ring must lie outside the point cloud")
	}
	camera := cfg.Camera
	if camera == nil {
		camera = DefaultCamera()
	}
	if err := camera.CheckValid(); err != nil {
		return nil, err
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))

	scene := &Scene{Intrinsics: []*transform.PinholeCameraModel{camera}}
	for j := 0; j < cfg.NumViews; j++ {
		angle := 2 * math.Pi * float64(j) / float64(cfg.NumViews)
		centre := r3.Vector{X: cfg.Radius * math.Cos(angle), Y: -cfg.Height, Z: cfg.Radius * math.Sin(angle)}
		orientation, err := LookAt(centre, r3.Vector{})
		if err != nil {
			return nil, err
		}
		truth := bundleadjust.PoseRecord{ViewID: 10 * (j + 1), Orientation: orientation, Location: centre}
		scene.TruePoses = append(scene.TruePoses, truth)

		noise := gaussianVector(rng, cfg.RotationNoise)
		perturbed := bundleadjust.PoseRecord{
			ViewID:      truth.ViewID,
			Orientation: orientation.MulMatrix(spatialmath.RotationVectorToMatrix(noise)),
			Location:    centre.Add(gaussianVector(rng, cfg.LocationNoise)),
		}
		scene.Poses = append(scene.Poses, perturbed)
	}

	for i := 0; i < cfg.NumPoints; i++ {
		pt := r3.Vector{
			X: (2*rng.Float64() - 1) * cfg.PointSpread,
			Y: (2*rng.Float64() - 1) * cfg.PointSpread,
			Z: (2*rng.Float64() - 1) * cfg.PointSpread,
		}
		scene.TruePoints = append(scene.TruePoints, pt)
		scene.Points = append(scene.Points, pt.Add(gaussianVector(rng, cfg.PointNoise)))

		keep := rng.Perm(cfg.NumViews)[:2]
		var track bundleadjust.Track
		for j, pose := range scene.TruePoses {
			if j != keep[0] && j != keep[1] && rng.Float64() < cfg.DropRate {
				continue
			}
			px := Project(camera, pose, pt)
			px.X += rng.NormFloat64() * cfg.PixelNoise
			px.Y += rng.NormFloat64() * cfg.PixelNoise
			track.ViewIDs = append(track.ViewIDs, pose.ViewID)
			track.Points = append(track.Points, px)
		}
		scene.Tracks = append(scene.Tracks, track)
	}
	return scene, nil
}

// Project maps a world point into a view, applying the camera's distortion.
func Project(camera *transform.PinholeCameraModel, pose bundleadjust.PoseRecord, pt r3.Vector) r2.Point {
	pc := pose.Orientation.Transpose().Mul(pt.Sub(pose.Location))
	return camera.Project(pc, true)
}

// LookAt returns the camera to world orientation of a camera at centre whose optical axis points at
// target, with image rows running towards +Y.
func LookAt(centre, target r3.Vector) (*spatialmath.RotationMatrix, error) {
	z := target.Sub(centre).Normalize()
	down := r3.Vector{Y: 1}
	y := down.Sub(z.Mul(down.Dot(z)))
	if y.Norm() < 1e-9 {
		return nil, errors.New("optical axis is parallel to the image rows")
	}
	y = y.Normalize()
	x := y.Cross(z)
	return spatialmath.NewRotationMatrix([]float64{
		x.X, y.X, z.X,
		x.Y, y.Y, z.Y,
		x.Z, y.Z, z.Z,
	})
}

func gaussianVector(rng *rand.Rand, sigma float64) r3.Vector {
	return r3.Vector{X: rng.NormFloat64() * sigma, Y: rng.NormFloat64() * sigma, Z: rng.NormFloat64() * sigma}
}
