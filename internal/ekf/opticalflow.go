// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"log"
	"math"
)

// SetOpticalFlowData ingests one optical-flow report. inAir is an
// external input from the fusion core: on the ground, reports that fail
// the quality, integration-time or magnitude gates are still accepted,
// and a poor-quality report has its flow rate substituted by the gyro
// rate, since a handled sensor on a bench produces garbage LOS rates
// that would otherwise be discarded every time.
//
// The EKF's sign convention for LOS rate is the opposite of the flow
// sensor's, hence the negations below. When flow.GyroData carries a
// non-finite component the ingester falls back to the IMU sample whose
// time is at or before the flow sample's corrected timestamp, using its
// delta_ang/delta_ang_dt as the gyro rate instead.
func (f *Frontend) SetOpticalFlowData(timeUsec int64, flow FlowMessage, inAir bool) {
	if !f.initialised || f.flowBufferFail {
		return
	}

	if f.flowBuffer.GetLength() < f.obsBufferLength {
		f.flowBufferFail = !f.flowBuffer.Allocate(f.obsBufferLength)
		if f.flowBufferFail {
			log.Printf("ekf: optical flow buffer allocation failed")
			return
		}
	}

	if timeUsec-f.timeLastOptflow <= f.minObsInterval {
		return
	}

	deltaTime := 1e-6 * float64(flow.DtUs)
	deltaTimeMin := 5e-7 * float64(f.minObsInterval)
	deltaTimeGood := deltaTime >= deltaTimeMin
	if !deltaTimeGood {
		deltaTime = deltaTimeMin
	}

	flowMagnitudeGood := true
	if deltaTimeGood {
		flowRateMagnitude := flow.FlowData.norm() / deltaTime
		flowMagnitudeGood = flowRateMagnitude <= f.params.FlowRateMax
	}

	flowQualityGood := flow.Quality >= int(f.params.FlowQualMin)

	if !((deltaTimeGood && flowQualityGood && flowMagnitudeGood) || !inAir) {
		return
	}

	sample := FlowSample{
		TimeUs:  timeUsec - int64(f.params.FlowDelayMS)*1000 - flow.DtUs/2,
		Quality: flow.Quality,
		Dt:      deltaTime,
	}

	noGyro := false
	for _, g := range flow.GyroData {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			noGyro = true
		}
	}

	var matching IMUSample
	var matchingGyro Vec3
	if noGyro {
		if m, ok := f.imuBuffer.ReadFirstOlderThan(sample.TimeUs); ok {
			matching = m
		}
		matchingGyro = safeDiv3(matching.DeltaAng, matching.DeltaAngDt)
		sample.GyroXYZ = matchingGyro
	} else {
		sample.GyroXYZ = Vec3{-flow.GyroData[0], -flow.GyroData[1], -flow.GyroData[2]}
	}

	if flowQualityGood {
		if noGyro {
			sample.FlowRadXY = Vec2{flow.FlowData[0] / deltaTime, flow.FlowData[1] / deltaTime}
		} else {
			sample.FlowRadXY = Vec2{-flow.FlowData[0], -flow.FlowData[1]}
		}
	} else {
		// On the ground with poor quality: assume zero ground-relative
		// velocity by substituting the (negated) gyro rate.
		if noGyro {
			sample.FlowRadXY = Vec2{-matchingGyro[0], -matchingGyro[1]}
		} else {
			sample.FlowRadXY = Vec2{-flow.GyroData[0], -flow.GyroData[1]}
		}
	}

	if noGyro {
		sample.FlowRadXYComp = Vec2{
			(sample.FlowRadXY[0] + sample.GyroXYZ[0]) * deltaTime,
			(sample.FlowRadXY[1] + sample.GyroXYZ[1]) * deltaTime,
		}
		sample.GyroXYZ[0] *= matching.DeltaAngDt
		sample.GyroXYZ[1] *= matching.DeltaAngDt
	} else {
		sample.FlowRadXYComp = Vec2{
			sample.FlowRadXY[0] - sample.GyroXYZ[0],
			sample.FlowRadXY[1] - sample.GyroXYZ[1],
		}
	}

	f.timeLastOptflow = timeUsec
	f.flowBuffer.Push(sample)
}

// safeDiv3 divides a vector by a scalar, returning zero instead of
// Inf/NaN when the divisor is zero (e.g. no matching IMU sample was
// found in the buffer).
func safeDiv3(v Vec3, d float64) Vec3 {
	if d == 0 {
		return Vec3{}
	}
	return Vec3{v[0] / d, v[1] / d, v[2] / d}
}
