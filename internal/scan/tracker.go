package scan

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// fallbackDt substitutes a non-positive device timestamp delta.
	fallbackDt = 0.01
	// zeroVelocityThreshold is the speed below which velocity snaps to
	// zero. A drift suppression heuristic, not a stationary detector.
	zeroVelocityThreshold = 0.02
	gravityZ              = -9.81
)

var gravity = r3.Vec{Z: gravityZ}

// TrackerConfig holds the Position Tracker tuning parameters.
type TrackerConfig struct {
	// CalibrationSamples is how many stationary IMU samples to average
	// into the accelerometer/gyroscope biases before tracking starts.
	CalibrationSamples int
	// PositionSmoothing and QuaternionSmoothing are the sliding-buffer
	// depths for the position and orientation averaging filters.
	PositionSmoothing   int
	QuaternionSmoothing int
}

// DefaultTrackerConfig returns the tuning used against a stationary-start
// picoScan rig.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		CalibrationSamples:  100,
		PositionSmoothing:   5,
		QuaternionSmoothing: 5,
	}
}

// Pose is a read-only snapshot of the tracked position and orientation.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// TransformPointCloud expresses a sensor-frame point cloud in the world
// frame: each point is rotated by the pose orientation and translated by
// the pose position. The input is left untouched.
func (p Pose) TransformPointCloud(pc *PointCloud) *PointCloud {
	out := &PointCloud{
		X:               make([]float64, pc.Len()),
		Y:               make([]float64, pc.Len()),
		Z:               make([]float64, pc.Len()),
		Intensity:       make([]float64, pc.Len()),
		TelegramCounter: pc.TelegramCounter,
		Timestamp:       pc.Timestamp,
	}
	rot := r3.Rotation(p.Orientation)
	for i := 0; i < pc.Len(); i++ {
		w := r3.Add(rot.Rotate(r3.Vec{X: pc.X[i], Y: pc.Y[i], Z: pc.Z[i]}), p.Position)
		out.X[i] = w.X
		out.Y[i] = w.Y
		out.Z[i] = w.Z
		out.Intensity[i] = pc.Intensity[i]
	}
	return out
}

// PositionTracker fuses IMU samples into a smoothed 6-DoF pose. It starts
// in a calibrating state that collects stationary samples to estimate
// sensor biases; once the calibration buffer fills it integrates
// orientation, velocity and position per sample. One instance per sensor
// stream, single caller; no internal locking.
type PositionTracker struct {
	cfg TrackerConfig

	position    r3.Vec
	velocity    r3.Vec
	orientation quat.Number

	positionBuf    []r3.Vec
	orientationBuf []quat.Number

	accelBias  r3.Vec
	gyroBias   r3.Vec
	calibrated bool
	calAccel   []r3.Vec
	calGyro    []r3.Vec

	lastTimestamp float64 // seconds, device clock
	hasTimestamp  bool
}

// NewPositionTracker creates a tracker in the calibrating state. Zero or
// negative config values fall back to the defaults.
func NewPositionTracker(cfg TrackerConfig) *PositionTracker {
	def := DefaultTrackerConfig()
	if cfg.CalibrationSamples <= 0 {
		cfg.CalibrationSamples = def.CalibrationSamples
	}
	if cfg.PositionSmoothing <= 0 {
		cfg.PositionSmoothing = def.PositionSmoothing
	}
	if cfg.QuaternionSmoothing <= 0 {
		cfg.QuaternionSmoothing = def.QuaternionSmoothing
	}
	return &PositionTracker{
		cfg:         cfg,
		orientation: quat.Number{Real: 1},
		calAccel:    make([]r3.Vec, 0, cfg.CalibrationSamples),
		calGyro:     make([]r3.Vec, 0, cfg.CalibrationSamples),
	}
}

// Calibrated reports whether bias calibration has completed and pose
// updates are active.
func (t *PositionTracker) Calibrated() bool { return t.calibrated }

// Recalibrate discards all tracking state and returns the tracker to the
// calibrating state. This is the only way back once tracking has started.
func (t *PositionTracker) Recalibrate() {
	*t = *NewPositionTracker(t.cfg)
}

// Pose returns the current pose snapshot. Safe to call in any state; while
// calibrating it reports the zero position and identity orientation.
func (t *PositionTracker) Pose() Pose {
	return Pose{Position: t.position, Orientation: t.orientation}
}

// Update consumes one IMU sample. While calibrating the sample only feeds
// the bias estimate; afterwards it advances the pose integration.
func (t *PositionTracker) Update(sample *ImuSample) {
	if !t.calibrated {
		t.calibrate(sample)
		return
	}

	ts := float64(sample.Timestamp) / 1e6
	if !t.hasTimestamp {
		t.lastTimestamp = ts
		t.hasTimestamp = true
	}
	dt := ts - t.lastTimestamp
	if dt <= 0 {
		dt = fallbackDt
	}

	// Orientation: component mean over the sliding buffer, renormalized.
	// Valid only for small inter-sample rotation deltas.
	t.orientationBuf = appendBounded(t.orientationBuf, sample.Orientation, t.cfg.QuaternionSmoothing)
	if avg, ok := meanQuat(t.orientationBuf); ok {
		t.orientation = avg
	}

	corrected := r3.Sub(sample.Acceleration, t.accelBias)
	accelWorld := r3.Sub(r3.Rotation(t.orientation).Rotate(corrected), gravity)

	t.velocity = r3.Add(t.velocity, r3.Scale(dt, accelWorld))
	if r3.Norm(t.velocity) < zeroVelocityThreshold {
		t.velocity = r3.Vec{}
	}

	candidate := r3.Add(t.position, r3.Scale(dt, t.velocity))
	t.positionBuf = appendBounded(t.positionBuf, candidate, t.cfg.PositionSmoothing)
	t.position = meanVec(t.positionBuf)

	t.lastTimestamp = ts
}

// calibrate accumulates stationary samples; once the buffer is full the
// biases are the sample means, with gravity nulled out of the
// accelerometer Z axis, and tracking begins.
func (t *PositionTracker) calibrate(sample *ImuSample) {
	t.calAccel = append(t.calAccel, sample.Acceleration)
	t.calGyro = append(t.calGyro, sample.AngularVelocity)
	if len(t.calAccel) < t.cfg.CalibrationSamples {
		return
	}

	t.accelBias = meanVec(t.calAccel)
	t.accelBias.Z -= -gravityZ
	t.gyroBias = meanVec(t.calGyro)
	t.calibrated = true
	t.calAccel = nil
	t.calGyro = nil
	logf("imu calibration complete: accel bias (%.4f, %.4f, %.4f), gyro bias (%.4f, %.4f, %.4f)",
		t.accelBias.X, t.accelBias.Y, t.accelBias.Z,
		t.gyroBias.X, t.gyroBias.Y, t.gyroBias.Z)
}

func appendBounded[T any](buf []T, v T, max int) []T {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[1:]
	}
	return buf
}

func meanVec(vs []r3.Vec) r3.Vec {
	var sum r3.Vec
	for _, v := range vs {
		sum = r3.Add(sum, v)
	}
	return r3.Scale(1/float64(len(vs)), sum)
}

// meanQuat is the component-wise mean of the buffered quaternions,
// renormalized to unit length. Reports ok=false when the mean degenerates
// to zero and no orientation can be derived.
func meanQuat(qs []quat.Number) (quat.Number, bool) {
	var sum quat.Number
	for _, q := range qs {
		sum = quat.Add(sum, q)
	}
	n := float64(len(qs))
	sum = quat.Scale(1/n, sum)
	norm := quat.Abs(sum)
	if norm == 0 || math.IsNaN(norm) {
		return quat.Number{}, false
	}
	return quat.Scale(1/norm, sum), true
}
