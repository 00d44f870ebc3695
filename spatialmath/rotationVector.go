package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// smallAngleSquared is the squared rotation angle below which the series expansions are used.
const smallAngleSquared = 1e-16

// RotationVectorToMatrix converts a rotation vector (axis scaled by angle, radians) to a rotation
// matrix with the Rodrigues formula.
func RotationVectorToMatrix(omega r3.Vector) *RotationMatrix {
	theta2 := omega.Norm2()
	k := skew(omega)
	var a, b float64
	if theta2 < smallAngleSquared {
		// sin(t)/t and (1-cos(t))/t^2 to second order
		a, b = 1-theta2/6, 0.5-theta2/24
	} else {
		theta := math.Sqrt(theta2)
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / theta2
	}
	k2 := mul3(k, k)
	rm := &RotationMatrix{}
	for i := 0; i < 9; i++ {
		rm.mat[i] = a*k[i] + b*k2[i]
	}
	rm.mat[0]++
	rm.mat[4]++
	rm.mat[8]++
	return rm
}

// RotationMatrixToVector converts a rotation matrix to its rotation vector, with angle in [0, pi].
func RotationMatrixToVector(rm *RotationMatrix) r3.Vector {
	q := rm.Quaternion()
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := v.Norm()
	if sinHalf < 1e-12 {
		// near identity the vector part is half the rotation vector
		return v.Mul(2)
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return v.Mul(theta / sinHalf)
}

// RotatedPointJacobian returns the 3x3 derivative of R(omega)*p with respect to the rotation vector
// omega, using the closed form from Gallego and Yezzi, "A compact formula for the derivative of a
// 3-D rotation in exponential coordinates" (2015):
//
//	d(R p)/d omega = -R [p]x (omega omega^T + (R^T - I)[omega]x) / |omega|^2
//
// Entry [i][j] is the derivative of component i with respect to omega_j.
func RotatedPointJacobian(omega, p r3.Vector) [3][3]float64 {
	rm := RotationVectorToMatrix(omega)
	theta2 := omega.Norm2()
	var out [3][3]float64
	if theta2 < smallAngleSquared {
		rp := skew(rm.Mul(p))
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out[i][j] = -rp[i*3+j]
			}
		}
		return out
	}

	w := [3]float64{omega.X, omega.Y, omega.Z}
	rt := rm.Transpose()
	var inner [9]float64
	wx := skew(omega)
	rtMinusI := rt.mat
	rtMinusI[0]--
	rtMinusI[4]--
	rtMinusI[8]--
	tail := mul3(rtMinusI, wx)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inner[i*3+j] = (w[i]*w[j] + tail[i*3+j]) / theta2
		}
	}
	rpx := mul3(rm.mat, skew(p))
	full := mul3(rpx, inner)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = -full[i*3+j]
		}
	}
	return out
}

// skew returns the cross product matrix [v]x in row major order.
func skew(v r3.Vector) [9]float64 {
	return [9]float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[i*3+k] * b[k*3+j]
			}
			out[i*3+j] = sum
		}
	}
	return out
}
