package proto

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Float is a JSON number that also accepts the encodings rosbridge uses for non-finite values:
// null and the strings "NaN", "Infinity" and "-Infinity". Null decodes to NaN.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = Float(math.NaN())
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unq
	}
	switch strings.ToLower(s) {
	case "nan":
		*f = Float(math.NaN())
		return nil
	case "infinity", "inf", "+infinity":
		*f = Float(math.Inf(1))
		return nil
	case "-infinity", "-inf":
		*f = Float(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

type Vector3 struct {
	X Float `json:"x"`
	Y Float `json:"y"`
	Z Float `json:"z"`
}

type Quaternion struct {
	X Float `json:"x"`
	Y Float `json:"y"`
	Z Float `json:"z"`
	W Float `json:"w"`
}

// HasNaN reports whether any component is not-a-number.
func (q Quaternion) HasNaN() bool {
	return math.IsNaN(float64(q.X)) || math.IsNaN(float64(q.Y)) ||
		math.IsNaN(float64(q.Z)) || math.IsNaN(float64(q.W))
}

type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

type PoseWithCovariance struct {
	Pose       Pose      `json:"pose"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// Stamp covers both ROS 2 (sec/nanosec) and ROS 1 (secs/nsecs) time layouts.
type Stamp struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec,omitempty"`
	Secs    int64 `json:"secs,omitempty"`
	Nsecs   int64 `json:"nsecs,omitempty"`
}

func (s Stamp) Time() time.Time {
	sec, nsec := s.Sec, s.Nanosec
	if sec == 0 && nsec == 0 {
		sec, nsec = s.Secs, s.Nsecs
	}
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}

type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Odometry mirrors nav_msgs/msg/Odometry. Position and Orientation are also accepted at the top
// level so bare geometry_msgs/msg/Pose payloads decode into the same struct.
type Odometry struct {
	Header       Header             `json:"header"`
	ChildFrameID string             `json:"child_frame_id,omitempty"`
	Pose         PoseWithCovariance `json:"pose"`
	Position     *Vector3           `json:"position,omitempty"`
	Orientation  *Quaternion        `json:"orientation,omitempty"`
}

// SamplePose returns the pose carried by the message, preferring the flat layout when present.
func (o Odometry) SamplePose() Pose {
	if o.Position != nil && o.Orientation != nil {
		return Pose{Position: *o.Position, Orientation: *o.Orientation}
	}
	return o.Pose.Pose
}

// ColorRGBA mirrors std_msgs/msg/ColorRGBA.
type ColorRGBA struct {
	R Float `json:"r"`
	G Float `json:"g"`
	B Float `json:"b"`
	A Float `json:"a"`
}
