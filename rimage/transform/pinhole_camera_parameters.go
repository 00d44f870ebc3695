package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

type distortionJSON struct {
	Type       DistortionType `json:"type"`
	Parameters []float64      `json:"parameters"`
}

type pinholeCameraModelJSON struct {
	Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion *distortionJSON          `json:"distortion,omitempty"`
}

// MarshalJSON writes the distortion model by name and parameter list.
func (params PinholeCameraModel) MarshalJSON() ([]byte, error) {
	out := pinholeCameraModelJSON{Intrinsics: params.PinholeCameraIntrinsics}
	if params.Distortion != nil {
		out.Distortion = &distortionJSON{Type: params.Distortion.ModelType(), Parameters: params.Distortion.Parameters()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the distortion model by name and builds the matching Distorter.
func (params *PinholeCameraModel) UnmarshalJSON(data []byte) error {
	var in pinholeCameraModelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	params.PinholeCameraIntrinsics = in.Intrinsics
	params.Distortion = nil
	if in.Distortion != nil {
		d, err := NewDistorter(in.Distortion.Type, in.Distortion.Parameters)
		if err != nil {
			return err
		}
		if d != nil {
			params.Distortion = d
		}
	}
	return nil
}

// CheckValid checks the intrinsics and, when present, the distortion parameters.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	if params.Distortion != nil {
		return params.Distortion.CheckValid()
	}
	return nil
}

// NewPinholeCameraModelFromJSONFile takes in a file path to a JSON and turns it into a PinholeCameraModel.
func NewPinholeCameraModelFromJSONFile(jsonPath string) (*PinholeCameraModel, error) {
	byteValue, err := readJSONFile(jsonPath)
	if err != nil {
		return nil, err
	}
	model := &PinholeCameraModel{}
	if err := json.Unmarshal(byteValue, model); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	return model, nil
}

// Project maps a point in the camera frame to pixel coordinates. Distortion is applied only if distort is
// true and the model has a Distorter.
func (params *PinholeCameraModel) Project(pc r3.Vector, distort bool) r2.Point {
	px, _ := params.ProjectWithJacobian(pc, distort)
	return px
}

// ProjectWithJacobian maps a point in the camera frame to pixel coordinates and returns the 2x3 derivative
// of the pixel with respect to the camera frame point.
func (params *PinholeCameraModel) ProjectWithJacobian(pc r3.Vector, distort bool) (r2.Point, [2][3]float64) {
	invZ := 1 / pc.Z
	x, y := pc.X*invZ, pc.Y*invZ
	// d(x, y)/d(pc)
	dn := [2][3]float64{
		{invZ, 0, -x * invZ},
		{0, invZ, -y * invZ},
	}
	xd, yd := x, y
	dd := [2][2]float64{{1, 0}, {0, 1}}
	if distort && params.Distortion != nil {
		xd, yd = params.Distortion.Transform(x, y)
		dd = params.Distortion.Jacobian(x, y)
	}
	in := params.PinholeCameraIntrinsics
	// K2 * dd, where K2 is the upper 2x2 block of the camera matrix
	kd := [2][2]float64{
		{in.Fx*dd[0][0] + in.Skew*dd[1][0], in.Fx*dd[0][1] + in.Skew*dd[1][1]},
		{in.Fy * dd[1][0], in.Fy * dd[1][1]},
	}
	var jac [2][3]float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			jac[r][c] = kd[r][0]*dn[0][c] + kd[r][1]*dn[1][c]
		}
	}
	u, v := in.PointToPixel(xd, yd, 1)
	return r2.Point{X: u, Y: v}, jac
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
// Width and Height may be left at zero when the image size is unknown.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Skew   float64 `json:"skew,omitempty"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width < 0 || params.Height < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	for _, v := range []float64{params.Fx, params.Fy, params.Ppx, params.Ppy, params.Skew} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNoIntrinsicsError(fmt.Sprintf("Non-finite intrinsic parameter %#v", v))
		}
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

func readJSONFile(jsonPath string) ([]byte, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	return byteValue, nil
}

// PointToPixel projects a point in the camera frame to a pixel in the image plane, without
// distortion. A point on the plane z = 1 is a normalized image point.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := (x/z)*params.Fx + (y/z)*params.Skew + params.Ppx
		yPx := (y/z)*params.Fy + params.Ppy
		return xPx, yPx
	}
	// a point on the camera plane has no image; negative coordinates fall outside any image
	return -1.0, -1.0
}
