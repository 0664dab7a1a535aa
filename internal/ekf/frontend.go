// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"fmt"
	"log"
	"math"
)

// noPriorSample is the sentinel each per-stream rate-limit clock starts
// at after InitialiseInterface. A stream's very first sample has
// nothing to rate-limit against, so the gap from this sentinel always
// exceeds any minObsInterval and the first call is always accepted.
const noPriorSample = math.MinInt64 / 2

// VibeMetrics are the three leak-integrator vibration health indicators
// derived from successive IMU deltas: coning, high-frequency gyro and
// high-frequency accelerometer vibration.
type VibeMetrics struct {
	Coning    float64
	HFGyro    float64
	HFAccel   float64
}

// Frontend is the single owning object for all front-end state: ring
// buffers, vibration metrics, the delayed-IMU snapshot and every
// per-stream rate-limit clock. There is exactly one writer per buffer
// (the matching ingester) and one reader (the fusion loop); callers are
// responsible for serializing calls the way the host scheduler does for
// the rest of this subsystem; a Frontend is not safe for concurrent use.
type Frontend struct {
	params     Params
	projection MapProjection

	initialised bool

	imuBuffer        RingBuffer[IMUSample]
	magBuffer        RingBuffer[MagSample]
	gpsBuffer        RingBuffer[GPSSample]
	baroBuffer       RingBuffer[BaroSample]
	airspeedBuffer   RingBuffer[AirspeedSample]
	rangeBuffer      RingBuffer[RangeSample]
	flowBuffer       RingBuffer[FlowSample]
	evBuffer         RingBuffer[ExtVisionSample]
	auxVelBuffer     RingBuffer[AuxVelSample]
	dragBuffer       RingBuffer[DragSample]
	outputBuffer     RingBuffer[IMUSample] // output-predictor history, sized like the IMU buffer
	outputVertBuffer RingBuffer[IMUSample] // vertical-channel output history, sized like the IMU buffer

	magBufferFail      bool
	gpsBufferFail      bool
	baroBufferFail     bool
	airspeedBufferFail bool
	rangeBufferFail    bool
	flowBufferFail     bool
	evBufferFail       bool
	auxVelBufferFail   bool
	dragBufferFail     bool

	imuBufferLength int
	obsBufferLength int

	timeLastImu      int64
	timeLastMag      int64
	timeLastGps      int64
	timeLastBaro     int64
	timeLastRange    int64
	timeLastAirspeed int64
	timeLastOptflow  int64
	timeLastEv       int64
	timeLastAuxvel   int64

	dtImuAvg       float64
	minObsInterval int64 // microseconds

	imuTicks     int
	imuUpdated   bool
	imuCollector imuCollector

	deltaAngPrev Vec3
	deltaVelPrev Vec3
	vibeMetrics  VibeMetrics

	imuSampleDelayed IMUSample

	gpsSpeedValid bool

	dragSampleCount  int
	dragDownSampled  DragSample
	dragSampleTimeDt float64

	// deadreckonTimeExceeded is set by the (external) fusion core; the
	// front-end only exposes it through LocalPositionIsValid.
	deadreckonTimeExceeded bool
}

// NewFrontend constructs a Frontend with the given parameters and
// geographic projector. Call InitialiseInterface before feeding any
// samples.
func NewFrontend(params Params, projection MapProjection) *Frontend {
	return &Frontend{
		params:     params,
		projection: projection,
	}
}

// VibeMetrics returns a snapshot of the current vibration health
// indicators.
func (f *Frontend) VibeMetrics() VibeMetrics {
	return f.vibeMetrics
}

// ImuUpdated reports whether the most recent SetIMUData call produced a
// new down-sampled sample (i.e. advanced the fusion time horizon).
func (f *Frontend) ImuUpdated() bool {
	return f.imuUpdated
}

// DelayedIMU returns the oldest sample currently held in the IMU
// buffer: the fusion time horizon that every aiding observation is
// floored against.
func (f *Frontend) DelayedIMU() IMUSample {
	return f.imuSampleDelayed
}

// SetDeadReckonTimeExceeded lets the (external) fusion core report
// whether it has been coasting on inertial-only prediction for too
// long; LocalPositionIsValid is the negation of this flag.
func (f *Frontend) SetDeadReckonTimeExceeded(exceeded bool) {
	f.deadreckonTimeExceeded = exceeded
}

// SetIMUData accumulates one raw IMU delta tick, down-samples it via
// the IMU collector, updates the three vibration metrics and, once a
// down-sampled sample is ready, pushes it to the IMU buffer and
// recomputes the minimum observation interval. If drag fusion is
// enabled it also feeds the drag accumulator (see drag.go).
//
// timeUsec, deltaAngDtUs and deltaVelDtUs are in microseconds.
func (f *Frontend) SetIMUData(timeUsec int64, deltaAngDtUs, deltaVelDtUs int64, deltaAng, deltaVel Vec3) {
	if !f.initialised {
		f.initImuState(timeUsec)
		f.initialised = true
	}

	dt := clamp(float64(timeUsec-f.timeLastImu)/1e6, 1.0e-4, 0.02)

	f.timeLastImu = timeUsec

	if f.timeLastImu > 0 {
		f.dtImuAvg = 0.8*f.dtImuAvg + 0.2*dt
	}

	sampleNew := IMUSample{
		DeltaAng:   deltaAng,
		DeltaVel:   deltaVel,
		DeltaAngDt: float64(deltaAngDtUs) / 1e6,
		DeltaVelDt: float64(deltaVelDtUs) / 1e6,
		TimeUs:     timeUsec,
	}
	f.imuTicks++

	// Coning: cross product of successive angular increments.
	coning := sampleNew.DeltaAng.cross(f.deltaAngPrev)
	f.vibeMetrics.Coning = 0.99*f.vibeMetrics.Coning + 0.01*coning.norm()

	// High-frequency gyro vibration.
	hfGyro := sampleNew.DeltaAng.sub(f.deltaAngPrev)
	f.deltaAngPrev = sampleNew.DeltaAng
	f.vibeMetrics.HFGyro = 0.99*f.vibeMetrics.HFGyro + 0.01*hfGyro.norm()

	// High-frequency accelerometer vibration.
	hfAccel := sampleNew.DeltaVel.sub(f.deltaVelPrev)
	f.deltaVelPrev = sampleNew.DeltaVel
	f.vibeMetrics.HFAccel = 0.99*f.vibeMetrics.HFAccel + 0.01*hfAccel.norm()

	ready, combined := f.imuCollector.collect(sampleNew)
	if !ready {
		f.imuUpdated = false
		return
	}

	f.imuBuffer.Push(combined)
	f.imuTicks = 0
	f.imuUpdated = true

	f.imuSampleDelayed = f.imuBuffer.GetOldest()

	// Minimum interval between observations required to guarantee no
	// loss of data: if aiding samples arrive closer together than
	// this, the buffer would overwrite a sample before the fusion
	// horizon reaches it.
	if f.obsBufferLength > 1 {
		newest := f.imuBuffer.GetNewest()
		f.minObsInterval = (newest.TimeUs - f.imuSampleDelayed.TimeUs) / int64(f.obsBufferLength-1)
	}

	f.accumulateDrag(combined)
}

func (f *Frontend) initImuState(timestamp int64) {
	f.timeLastImu = timestamp
	f.dtImuAvg = 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InitialiseInterface sizes and allocates the IMU and output buffers
// from the worst-case transport delay across all aiding streams, then
// resets every counter. Aiding buffers are NOT allocated here; they are
// allocated lazily on first use (see aiding.go). Returns false, after
// releasing whatever it managed to allocate, if any of the eagerly
// allocated buffers cannot be sized.
func (f *Frontend) InitialiseInterface(timestamp int64) bool {
	p := f.params
	maxDelayMs := maxU16(p.MagDelayMS, p.RangeDelayMS, p.GPSDelayMS, p.FlowDelayMS,
		p.EvDelayMS, p.AuxVelDelayMS, p.MinDelayMS, p.AirspeedDelayMS, p.BaroDelayMS)

	f.imuBufferLength = int(maxDelayMs/p.FilterUpdatePeriodMS) + 1

	ekfDelayMs := int(maxDelayMs) + ceilDiv2(int(maxDelayMs))
	f.obsBufferLength = minInt(ekfDelayMs/p.SensorIntervalMinMS+1, f.imuBufferLength)

	if !(f.imuBuffer.Allocate(f.imuBufferLength) &&
		f.outputBuffer.Allocate(f.imuBufferLength) &&
		f.outputVertBuffer.Allocate(f.imuBufferLength)) {
		log.Printf("ekf: IMU/output buffer allocation failed")
		f.UnallocateBuffers()
		return false
	}

	f.dtImuAvg = 0

	f.imuSampleDelayed = IMUSample{TimeUs: timestamp}

	f.imuTicks = 0
	f.initialised = false

	f.timeLastImu = 0
	f.timeLastGps = noPriorSample
	f.timeLastMag = noPriorSample
	f.timeLastBaro = noPriorSample
	f.timeLastRange = noPriorSample
	f.timeLastAirspeed = noPriorSample
	f.timeLastOptflow = noPriorSample
	f.timeLastEv = noPriorSample
	f.timeLastAuxvel = noPriorSample

	f.magBufferFail = false
	f.gpsBufferFail = false
	f.baroBufferFail = false
	f.airspeedBufferFail = false
	f.rangeBufferFail = false
	f.flowBufferFail = false
	f.evBufferFail = false
	f.auxVelBufferFail = false
	f.dragBufferFail = false

	f.imuCollector = imuCollector{targetDt: float64(p.FilterUpdatePeriodMS) / 1000.0}

	return true
}

// ceilDiv2 returns ceil(n * 0.5) for non-negative n.
func ceilDiv2(n int) int {
	return (n + 1) / 2
}

// UnallocateBuffers releases every buffer's backing storage. Safe to
// call more than once, or on a Frontend that was never initialised.
func (f *Frontend) UnallocateBuffers() {
	f.imuBuffer.Unallocate()
	f.gpsBuffer.Unallocate()
	f.magBuffer.Unallocate()
	f.baroBuffer.Unallocate()
	f.rangeBuffer.Unallocate()
	f.airspeedBuffer.Unallocate()
	f.flowBuffer.Unallocate()
	f.evBuffer.Unallocate()
	f.outputBuffer.Unallocate()
	f.outputVertBuffer.Unallocate()
	f.dragBuffer.Unallocate()
	f.auxVelBuffer.Unallocate()
}

// LocalPositionIsValid reports whether the front-end is not currently
// coasting on unconstrained dead-reckoning, per the fusion core.
func (f *Frontend) LocalPositionIsValid() bool {
	return !f.deadreckonTimeExceeded
}

// PrintStatus logs buffer occupancy, allocation footprint and validity
// flags for every stream.
func (f *Frontend) PrintStatus() {
	for _, line := range f.StatusLines() {
		log.Println(line)
	}
}

// StatusLines returns the same information PrintStatus logs, as plain
// strings, so callers (e.g. an MQTT status publisher or a web handler)
// can present it without scraping log output.
func (f *Frontend) StatusLines() []string {
	return []string{
		fmt.Sprintf("local position valid: %v", f.LocalPositionIsValid()),
		fmt.Sprintf("imu buffer: %d (%d Bytes)", f.imuBuffer.GetLength(), f.imuBuffer.GetTotalSize()),
		fmt.Sprintf("gps buffer: %d (%d Bytes)", f.gpsBuffer.GetLength(), f.gpsBuffer.GetTotalSize()),
		fmt.Sprintf("mag buffer: %d (%d Bytes)", f.magBuffer.GetLength(), f.magBuffer.GetTotalSize()),
		fmt.Sprintf("baro buffer: %d (%d Bytes)", f.baroBuffer.GetLength(), f.baroBuffer.GetTotalSize()),
		fmt.Sprintf("range buffer: %d (%d Bytes)", f.rangeBuffer.GetLength(), f.rangeBuffer.GetTotalSize()),
		fmt.Sprintf("airspeed buffer: %d (%d Bytes)", f.airspeedBuffer.GetLength(), f.airspeedBuffer.GetTotalSize()),
		fmt.Sprintf("flow buffer: %d (%d Bytes)", f.flowBuffer.GetLength(), f.flowBuffer.GetTotalSize()),
		fmt.Sprintf("ext vision buffer: %d (%d Bytes)", f.evBuffer.GetLength(), f.evBuffer.GetTotalSize()),
		fmt.Sprintf("output buffer: %d (%d Bytes)", f.outputBuffer.GetLength(), f.outputBuffer.GetTotalSize()),
		fmt.Sprintf("output vert buffer: %d (%d Bytes)", f.outputVertBuffer.GetLength(), f.outputVertBuffer.GetTotalSize()),
		fmt.Sprintf("drag buffer: %d (%d Bytes)", f.dragBuffer.GetLength(), f.dragBuffer.GetTotalSize()),
		fmt.Sprintf("aux vel buffer: %d (%d Bytes)", f.auxVelBuffer.GetLength(), f.auxVelBuffer.GetTotalSize()),
	}
}

// ImuBufferLength and ObsBufferLength expose the sizes computed by
// InitialiseInterface, mainly for tests and status reporting.
func (f *Frontend) ImuBufferLength() int { return f.imuBufferLength }
func (f *Frontend) ObsBufferLength() int { return f.obsBufferLength }
func (f *Frontend) MinObsIntervalUs() int64 { return f.minObsInterval }
func (f *Frontend) DtImuAvg() float64 { return f.dtImuAvg }

// IMUBuffer exposes the IMU ring buffer for the fusion loop's read path.
func (f *Frontend) IMUBuffer() *RingBuffer[IMUSample] { return &f.imuBuffer }
