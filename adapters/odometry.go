package adapters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/mbocsi/skybridge/proto"
)

const (
	DefaultOdometryType = "nav_msgs/msg/Odometry"
	DefaultSmoothing    = 0.15
)

// Pose is a position and orientation in the display frame.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

func (p Pose) MarshalJSON() ([]byte, error) {
	return json.Marshal(proto.Pose{
		Position: proto.Vector3{X: proto.Float(p.Position.X), Y: proto.Float(p.Position.Y), Z: proto.Float(p.Position.Z)},
		Orientation: proto.Quaternion{
			X: proto.Float(p.Orientation.Imag),
			Y: proto.Float(p.Orientation.Jmag),
			Z: proto.Float(p.Orientation.Kmag),
			W: proto.Float(p.Orientation.Real),
		},
	})
}

type OdometryConfig struct {
	Name           string
	Topic          string
	MessageType    string      // Defaults to nav_msgs/msg/Odometry
	PositionOffset r3.Vector   // Added after the frame change
	RotationOffset quat.Number // Composed on the left of the converted orientation; zero means identity
	Smoothing      float64     // Nominal per-frame factor at 60 fps, in (0, 1]
}

// Odometry follows a vehicle odometry topic. Incoming NED samples become the raw target; Tick
// moves the smoothed display pose toward it once per frame.
type Odometry struct {
	name           string
	topic          string
	messageType    string
	positionOffset r3.Vector
	rotationOffset quat.Number
	smoothing      float64

	mu          sync.Mutex
	target      Pose
	smoothed    Pose
	hasData     bool
	firstUpdate bool
	stamp       time.Time
	received    time.Time
	accepted    uint64
	rejected    uint64
}

func NewOdometry(cfg OdometryConfig) *Odometry {
	if cfg.MessageType == "" {
		cfg.MessageType = DefaultOdometryType
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Topic
	}
	if cfg.Smoothing <= 0 || math.IsNaN(cfg.Smoothing) {
		cfg.Smoothing = DefaultSmoothing
	}
	offset, ok := Normalize(cfg.RotationOffset)
	if !ok {
		offset = Identity
	}

	return &Odometry{
		name:           cfg.Name,
		topic:          cfg.Topic,
		messageType:    cfg.MessageType,
		positionOffset: cfg.PositionOffset,
		rotationOffset: offset,
		smoothing:      clamp01(cfg.Smoothing),
		target:         Pose{Orientation: Identity},
		smoothed:       Pose{Orientation: Identity},
		firstUpdate:    true,
	}
}

func (o *Odometry) Name() string        { return o.name }
func (o *Odometry) TopicPath() string   { return o.topic }
func (o *Odometry) MessageType() string { return o.messageType }

// OnMessageReceived decodes one odometry sample and makes it the new target. Samples with a NaN
// or zero-length orientation are skipped and leave the adapter untouched.
func (o *Odometry) OnMessageReceived(payload json.RawMessage) error {
	var msg proto.Odometry
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode odometry on %s: %w", o.topic, err)
	}
	sample := msg.SamplePose()

	o.mu.Lock()
	defer o.mu.Unlock()

	if sample.Orientation.HasNaN() {
		o.rejected++
		slog.Warn("Odometry orientation contains NaN: Ignoring sample", "adapter", o.name, "topic", o.topic)
		return nil
	}
	position := vectorFrom(sample.Position)
	if !finite(position) {
		o.rejected++
		slog.Warn("Odometry position is not finite: Ignoring sample", "adapter", o.name, "topic", o.topic)
		return nil
	}
	orientation, ok := Normalize(ToDisplayOrientation(quatFrom(sample.Orientation)))
	if !ok {
		o.rejected++
		slog.Warn("Odometry orientation has zero length: Ignoring sample", "adapter", o.name, "topic", o.topic)
		return nil
	}
	orientation = quat.Mul(o.rotationOffset, orientation)

	// Keep the sign closest to the previous raw target so slerp takes the short way round.
	if o.hasData && Dot(o.target.Orientation, orientation) < 0 {
		orientation = Flip(orientation)
	}

	o.target = Pose{
		Position:    ToDisplayPosition(position).Add(o.positionOffset),
		Orientation: orientation,
	}
	if o.firstUpdate {
		o.smoothed = o.target
		o.firstUpdate = false
		slog.Debug("First odometry sample applied", "adapter", o.name, "topic", o.topic)
	}
	o.hasData = true
	o.stamp = msg.Header.Stamp.Time()
	o.received = time.Now()
	o.accepted++
	return nil
}

func (o *Odometry) OnSubscribed() {
	slog.Debug("Odometry adapter subscribed", "adapter", o.name, "topic", o.topic)
}

// OnDisconnected forgets the current sample; the next accepted one snaps the display pose.
func (o *Odometry) OnDisconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hasData = false
	o.firstUpdate = true
}

// Tick advances the smoothed pose by dt seconds and returns it.
func (o *Odometry) Tick(dt float64) Pose {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.hasData {
		return o.smoothed
	}
	factor := SmoothingFactor(o.smoothing, dt)
	if factor == 0 {
		return o.smoothed
	}
	o.smoothed = Pose{
		Position:    Lerp(o.smoothed.Position, o.target.Position, factor),
		Orientation: Slerp(o.smoothed.Orientation, o.target.Orientation, factor),
	}
	return o.smoothed
}

func (o *Odometry) Target() Pose {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

func (o *Odometry) Smoothed() Pose {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.smoothed
}

func (o *Odometry) HasData() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasData
}

func (o *Odometry) FirstUpdatePending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.firstUpdate
}

// PoseSnapshot is a point-in-time view of an odometry adapter.
type PoseSnapshot struct {
	Name               string    `json:"name"`
	Topic              string    `json:"topic"`
	HasData            bool      `json:"has_data"`
	FirstUpdatePending bool      `json:"first_update_pending"`
	Target             Pose      `json:"target"`
	Smoothed           Pose      `json:"smoothed"`
	Stamp              time.Time `json:"stamp"`
	Received           time.Time `json:"received"`
	Accepted           uint64    `json:"accepted"`
	Rejected           uint64    `json:"rejected"`
}

func (o *Odometry) Snapshot() PoseSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return PoseSnapshot{
		Name:               o.name,
		Topic:              o.topic,
		HasData:            o.hasData,
		FirstUpdatePending: o.firstUpdate,
		Target:             o.target,
		Smoothed:           o.smoothed,
		Stamp:              o.stamp,
		Received:           o.received,
		Accepted:           o.accepted,
		Rejected:           o.rejected,
	}
}

func finite(v r3.Vector) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
