package adapters

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/mbocsi/skybridge/proto"
)

// Frame conventions
//
// Source poses are NED (x north, y east, z down). The display frame is y-up with
// x = east, y = up, z = north:
//
//	target = M * source,  M = [[0 1 0] [0 0 -1] [1 0 0]]
//
// M has determinant -1, so the orientation is remapped through the proper rotation P = -M.
// A rotation R expressed in the display frame is M R M^T = P R P^T, which for a quaternion
// (w, x, y, z) rotates its vector part by P: (w, -y, z, -x).

// Identity is the zero rotation.
var Identity = quat.Number{Real: 1}

// ToDisplayPosition maps an NED position into the display frame.
func ToDisplayPosition(ned r3.Vector) r3.Vector {
	return r3.Vector{X: ned.Y, Y: -ned.Z, Z: ned.X}
}

// ToDisplayOrientation maps an NED orientation into the display frame. The result is not
// normalized.
func ToDisplayOrientation(q quat.Number) quat.Number {
	return quat.Number{Real: q.Real, Imag: -q.Jmag, Jmag: q.Kmag, Kmag: -q.Imag}
}

func vectorFrom(v proto.Vector3) r3.Vector {
	return r3.Vector{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// quatFrom converts the ROS x,y,z,w layout.
func quatFrom(q proto.Quaternion) quat.Number {
	return quat.Number{Real: float64(q.W), Imag: float64(q.X), Jmag: float64(q.Y), Kmag: float64(q.Z)}
}

// Dot is the 4D dot product of two quaternions.
func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Flip negates every component. The result represents the same rotation.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// Normalize returns q scaled to unit length and false when q has zero or non-finite length.
func Normalize(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return q, false
	}
	return quat.Scale(1/n, q), true
}

// Rotate applies the unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Lerp interpolates linearly from a to b. t outside (0, 1) returns an endpoint unchanged.
func Lerp(a, b r3.Vector, t float64) r3.Vector {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return a.Add(b.Sub(a).Mul(t))
}

// Slerp interpolates along the shortest arc from a to b. Nearly parallel inputs fall back to a
// normalized lerp. t outside (0, 1) returns an endpoint unchanged.
func Slerp(a, b quat.Number, t float64) quat.Number {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	cos := Dot(a, b)
	if cos < 0 {
		b = Flip(b)
		cos = -cos
	}

	if cos > 0.9995 {
		q := quat.Add(a, quat.Scale(t, quat.Sub(b, a)))
		if n, ok := Normalize(q); ok {
			return n
		}
		return b
	}

	theta := math.Acos(math.Min(cos, 1))
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return quat.Add(quat.Scale(wa, a), quat.Scale(wb, b))
}

// SmoothingFactor rescales a per-frame factor tuned for 60 frames per second to an elapsed time
// of dt seconds: 1 - (1 - nominal)^(dt*60).
func SmoothingFactor(nominal, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	nominal = clamp01(nominal)
	return 1 - math.Pow(1-nominal, dt*60)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EulerDegrees builds a quaternion from roll (x), pitch (y) and yaw (z) angles in degrees, applied
// in z-y-x order. It is used to express configured rotation offsets.
func EulerDegrees(roll, pitch, yaw float64) quat.Number {
	const deg = math.Pi / 180
	cr, sr := math.Cos(roll*deg/2), math.Sin(roll*deg/2)
	cp, sp := math.Cos(pitch*deg/2), math.Sin(pitch*deg/2)
	cy, sy := math.Cos(yaw*deg/2), math.Sin(yaw*deg/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}
