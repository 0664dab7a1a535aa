// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"math"
	"testing"
)

func sizingParams() Params {
	return Params{
		MagDelayMS:           50,
		GPSDelayMS:           110,
		FilterUpdatePeriodMS: 10,
		SensorIntervalMinMS:  20,
	}
}

func TestInitialiseInterfaceSizesBuffersFromWorstCaseDelay(t *testing.T) {
	f := NewFrontend(sizingParams(), &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}

	if got := f.ImuBufferLength(); got != 12 {
		t.Fatalf("imu buffer length = %d, want 12", got)
	}
	if got := f.ObsBufferLength(); got != 9 {
		t.Fatalf("obs buffer length = %d, want 9", got)
	}
}

func TestUnallocateBuffersIsSafeBeforeInitialisation(t *testing.T) {
	// UnallocateBuffers is the release path InitialiseInterface takes on
	// allocation failure; verify it is idempotent and safe before any
	// successful initialisation.
	f := NewFrontend(sizingParams(), &EquirectangularProjection{})
	f.UnallocateBuffers()
	f.UnallocateBuffers()
	if f.IMUBuffer().GetCapacity() != 0 {
		t.Fatal("expected no capacity before initialisation")
	}
}

func TestMagRateLimitAcceptsFirstSampleThenGatesOnInterval(t *testing.T) {
	f := NewFrontend(sizingParams(), &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}
	f.minObsInterval = 10000
	f.initialised = true // normally set by the first SetIMUData call

	f.SetMagData(0, Vec3{1, 2, 3})
	f.SetMagData(5000, Vec3{1, 2, 3})
	f.SetMagData(10000, Vec3{1, 2, 3})
	f.SetMagData(15001, Vec3{1, 2, 3})

	if got := f.magBuffer.GetLength(); got != 2 {
		t.Fatalf("mag buffer length = %d, want 2 (only t=0 and t=15001 accepted)", got)
	}

	halfPeriod := f.halfPeriodUs()                // FilterUpdatePeriodMS=10 -> 5000us
	magDelay := int64(f.params.MagDelayMS) * 1000 // MagDelayMS=50 -> 50000us
	if got := f.magBuffer.GetOldest().TimeUs; got != 0-magDelay-halfPeriod {
		t.Fatalf("first accepted sample time = %d, want %d", got, 0-magDelay-halfPeriod)
	}
	if got := f.magBuffer.GetNewest().TimeUs; got != 15001-magDelay-halfPeriod {
		t.Fatalf("second accepted sample time = %d, want %d", got, 15001-magDelay-halfPeriod)
	}
}

func TestBaroTimestampIsFlooredToDelayedIMU(t *testing.T) {
	f := NewFrontend(sizingParams(), &EquirectangularProjection{})
	if !f.InitialiseInterface(100000) {
		t.Fatal("InitialiseInterface failed")
	}
	// imuSampleDelayed.TimeUs == 100000 from the init timestamp above.
	f.initialised = true // normally set by the first SetIMUData call

	f.SetBaroData(50000, 123.4)

	if got := f.baroBuffer.GetLength(); got != 1 {
		t.Fatalf("baro buffer length = %d, want 1", got)
	}
	if got := f.baroBuffer.GetOldest().TimeUs; got != 100000 {
		t.Fatalf("baro sample time = %d, want floored to 100000", got)
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSetIMUDataDownsamplesAndUpdatesVibeMetrics(t *testing.T) {
	f := NewFrontend(Params{FilterUpdatePeriodMS: 10, SensorIntervalMinMS: 20}, &EquirectangularProjection{})
	// InitialiseInterface sizes the IMU buffer and the collector; the first
	// SetIMUData call then seeds the IMU clock and marks the front-end
	// initialised.
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}

	f.SetIMUData(1000000, 5000, 5000, Vec3{0.01, 0, 0}, Vec3{0.1, 0, 0})
	if f.ImuUpdated() {
		t.Fatal("first tick alone should not complete a down-sampled sample")
	}

	f.SetIMUData(1005000, 5000, 5000, Vec3{0.02, 0, 0}, Vec3{0.2, 0, 0})
	if !f.ImuUpdated() {
		t.Fatal("second tick should complete the 0.01s down-sampled sample")
	}

	combined := f.DelayedIMU()
	if !approxEqual(combined.DeltaAng[0], 0.03) {
		t.Fatalf("combined delta ang x = %v, want 0.03", combined.DeltaAng[0])
	}
	if !approxEqual(combined.DeltaVel[0], 0.3) {
		t.Fatalf("combined delta vel x = %v, want 0.3", combined.DeltaVel[0])
	}
	if !approxEqual(combined.DeltaAngDt, 0.01) {
		t.Fatalf("combined delta ang dt = %v, want 0.01", combined.DeltaAngDt)
	}

	vibe := f.VibeMetrics()
	if !approxEqual(vibe.HFGyro, 0.000199) {
		t.Fatalf("HFGyro = %v, want 0.000199", vibe.HFGyro)
	}
	if !approxEqual(vibe.HFAccel, 0.00199) {
		t.Fatalf("HFAccel = %v, want 0.00199", vibe.HFAccel)
	}
	if !approxEqual(vibe.Coning, 0) {
		t.Fatalf("Coning = %v, want 0 for collinear deltas", vibe.Coning)
	}
}

func TestAccumulateDragDownSamplesAtMinSampleRatio(t *testing.T) {
	params := sizingParams()
	params.FusionMode = MaskUseDrag
	f := NewFrontend(params, &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}
	// imuBufferLength=12, obsBufferLength=9 -> ceil(12/9)=2, floored up to 5.

	for i := 1; i <= 5; i++ {
		f.accumulateDrag(IMUSample{
			DeltaVel:   Vec3{10, 20, 0},
			DeltaVelDt: 0.1,
			TimeUs:     int64(i) * 1000,
		})
		if i < 5 && f.dragBuffer.GetLength() != 0 {
			t.Fatalf("drag sample pushed early at i=%d", i)
		}
	}

	if got := f.dragBuffer.GetLength(); got != 1 {
		t.Fatalf("drag buffer length = %d, want 1", got)
	}
	out := f.dragBuffer.GetOldest()
	if !approxEqual(out.AccelXY[0], 100) || !approxEqual(out.AccelXY[1], 200) {
		t.Fatalf("drag sample accel = %+v, want (100, 200)", out.AccelXY)
	}
	if got := out.TimeUs; got != 3000 {
		t.Fatalf("drag sample time = %d, want 3000 (mean of 1000..5000)", got)
	}
}

func TestDragFusionDisabledByDefault(t *testing.T) {
	f := NewFrontend(sizingParams(), &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}
	f.accumulateDrag(IMUSample{DeltaVel: Vec3{10, 20, 0}, DeltaVelDt: 0.1, TimeUs: 1000})
	if got := f.dragBuffer.GetLength(); got != 0 {
		t.Fatalf("drag buffer length = %d, want 0 when MaskUseDrag is unset", got)
	}
}

func TestSetOpticalFlowDataCompensatesWithSensorGyro(t *testing.T) {
	params := Params{FlowQualMin: 50, FlowRateMax: 10, FilterUpdatePeriodMS: 10, SensorIntervalMinMS: 20}
	f := NewFrontend(params, &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}
	f.minObsInterval = 1000
	f.initialised = true // normally set by the first SetIMUData call

	f.SetOpticalFlowData(100000, FlowMessage{
		Quality:  100,
		DtUs:     10000,
		FlowData: Vec2{0.05, 0.02},
		GyroData: Vec3{0.1, 0.2, 0.3},
	}, true)

	if got := f.flowBuffer.GetLength(); got != 1 {
		t.Fatalf("flow buffer length = %d, want 1", got)
	}
	out := f.flowBuffer.GetOldest()
	if got := out.TimeUs; got != 95000 {
		t.Fatalf("flow sample time = %d, want 95000", got)
	}
	if !approxEqual(out.FlowRadXY[0], -0.05) || !approxEqual(out.FlowRadXY[1], -0.02) {
		t.Fatalf("FlowRadXY = %+v, want (-0.05, -0.02)", out.FlowRadXY)
	}
	if !approxEqual(out.GyroXYZ[0], -0.1) || !approxEqual(out.GyroXYZ[1], -0.2) {
		t.Fatalf("GyroXYZ = %+v, want (-0.1, -0.2, -0.3)", out.GyroXYZ)
	}
	if !approxEqual(out.FlowRadXYComp[0], 0.05) || !approxEqual(out.FlowRadXYComp[1], 0.18) {
		t.Fatalf("FlowRadXYComp = %+v, want (0.05, 0.18)", out.FlowRadXYComp)
	}
}

func TestSetOpticalFlowDataFallsBackToMatchingIMUSampleWhenGyroMissing(t *testing.T) {
	params := Params{FlowQualMin: 50, FlowRateMax: 10, FilterUpdatePeriodMS: 10, SensorIntervalMinMS: 20}
	f := NewFrontend(params, &EquirectangularProjection{})
	if !f.InitialiseInterface(0) {
		t.Fatal("InitialiseInterface failed")
	}
	f.minObsInterval = 1000
	f.initialised = true // normally set by the first SetIMUData call
	f.imuBuffer.Push(IMUSample{DeltaAng: Vec3{0.02, 0.04, 0}, DeltaAngDt: 0.02, TimeUs: 90000})

	f.SetOpticalFlowData(100000, FlowMessage{
		Quality:  100,
		DtUs:     10000,
		FlowData: Vec2{0.05, 0.02},
		GyroData: Vec3{math.NaN(), 0, 0},
	}, true)

	out := f.flowBuffer.GetOldest()
	// matching gyro = deltaAng/deltaAngDt = (1, 2, 0) rad/s
	if !approxEqual(out.FlowRadXY[0], 5) || !approxEqual(out.FlowRadXY[1], 2) {
		t.Fatalf("FlowRadXY = %+v, want (5, 2) (FlowData/deltaTime)", out.FlowRadXY)
	}
}
