// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ekf implements the sensor-ingest and delay-buffering front-end
// that sits ahead of the (external) EKF attitude/position fusion core.
//
// It accepts asynchronous IMU and aiding-sensor samples at their own
// arrival rates, down-samples and timestamps them onto a common fusion
// time horizon, and exposes each stream as a fixed-capacity, time-ordered
// ring buffer the fusion loop can read with ReadFirstOlderThan. Nothing
// in this package performs prediction, covariance propagation or
// innovation gating; that belongs to the fusion core.
package ekf

import "math"

// Vec2 is a 2-element vector; field meaning is documented per sample type.
type Vec2 [2]float64

// Vec3 is a 3-element vector; field meaning is documented per sample type.
type Vec3 [3]float64

// Vec4 is a 4-element vector, used for unit quaternions (w, x, y, z).
type Vec4 [4]float64

func (a Vec3) sub(b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func (a Vec3) cross(b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a Vec3) norm() float64 {
	return math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
}

func (a Vec2) norm() float64 {
	return math.Sqrt(a[0]*a[0] + a[1]*a[1])
}

// IMUSample is one prediction step's worth of angular and velocity
// increments, already down-sampled from raw gyro/accel ticks.
type IMUSample struct {
	DeltaAng   Vec3 // rad
	DeltaVel   Vec3 // m/s
	DeltaAngDt float64 // s
	DeltaVelDt float64 // s
	TimeUs     int64
}

// MagSample is a single magnetometer reading. The unit of Mag is
// sensor-defined (Gauss or uT) and passed through unchanged.
type MagSample struct {
	Mag    Vec3
	TimeUs int64
}

// GPSMessage is the raw decoded GPS fix handed to SetGPSData, mirroring
// the wire shape of a GNSS receiver's position/velocity/quality report.
type GPSMessage struct {
	TimeUsec    int64
	LatE7       int32 // latitude, degrees * 1e7
	LonE7       int32 // longitude, degrees * 1e7
	AltMM       int32 // altitude above mean sea level, mm
	VelNED      Vec3  // m/s
	VelNEDValid bool
	FixType     int
	EPH         float64 // horizontal accuracy, m
	EPV         float64 // vertical accuracy, m
	SAcc        float64 // speed accuracy, m/s
}

// GPSSample is the buffered, time-aligned GPS observation. Pos stays
// zero until a map-projection origin has been established.
type GPSSample struct {
	Vel    Vec3 // NED, m/s
	Pos    Vec2 // local tangent plane, m
	Hgt    float64
	HAcc   float64
	VAcc   float64
	SAcc   float64
	TimeUs int64
}

// BaroSample is a single barometric height reading.
type BaroSample struct {
	Hgt    float64 // m
	TimeUs int64
}

// AirspeedSample is a single pitot/static airspeed reading.
type AirspeedSample struct {
	TrueAirspeed float64 // m/s
	Eas2Tas      float64 // ratio
	TimeUs       int64
}

// RangeSample is a single range-finder reading.
type RangeSample struct {
	Rng    float64 // m
	TimeUs int64
}

// FlowMessage is the raw optical-flow sensor report handed to
// SetOpticalFlowData.
type FlowMessage struct {
	Quality  int // 0..255
	DtUs     int64
	FlowData Vec2 // rad/s, integrated over dt
	GyroData Vec3 // rad/s, sensor-frame gyro at time of integration; may be NaN
}

// FlowSample is the buffered, body-motion-compensated optical-flow
// observation. FlowRadXY's unit differs between branches of
// SetOpticalFlowData: with the sensor gyro available it holds the negated
// raw integrated flow (rad); with the gyro missing it holds FlowData
// divided by Dt (rad/s).
type FlowSample struct {
	FlowRadXY     Vec2
	FlowRadXYComp Vec2 // rad, LOS rate compensated for body motion
	GyroXYZ       Vec3
	Quality       int
	Dt            float64 // s
	TimeUs        int64
}

// ExtVisionSample is a pose estimate from an external vision system
// (e.g. VIO), carrying its own error estimates.
type ExtVisionSample struct {
	Quat    Vec4 // unit quaternion
	PosNED  Vec3 // m
	AngErr  float64
	PosErr  float64
	TimeUs  int64
}

// AuxVelSample is an auxiliary horizontal velocity observation with
// per-axis variance, e.g. from a secondary GNSS receiver or wheel odometry.
type AuxVelSample struct {
	VelNE    Vec2 // m/s
	VelVarNE Vec2 // (m/s)^2
	TimeUs   int64
}

// DragSample is the down-sampled mean specific force in the body XY
// plane, used by drag-based wind estimation.
type DragSample struct {
	AccelXY Vec2 // m/s^2
	TimeUs  int64
}
