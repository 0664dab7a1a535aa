// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import (
	"log"
	"math"
)

// accumulateDrag is the drag-force down-sampler: a parallel
// down-sampler over the XY specific force carried in IMU samples,
// gated by the MaskUseDrag fusion-mode flag. It accumulates delta
// velocity, dt and time across IMU down-sampled ticks until at least
// min_sample_ratio = max(5, ceil(imu_buffer_length/obs_buffer_length))
// samples have been collected, then pushes one mean drag observation
// and resets.
func (f *Frontend) accumulateDrag(sample IMUSample) {
	if f.params.FusionMode&MaskUseDrag == 0 || f.dragBufferFail {
		return
	}

	if f.dragBuffer.GetLength() < f.obsBufferLength {
		f.dragBufferFail = !f.dragBuffer.Allocate(f.obsBufferLength)
		if f.dragBufferFail {
			log.Printf("ekf: drag buffer allocation failed")
			return
		}
	}

	f.dragSampleCount++
	f.dragDownSampled.AccelXY[0] += sample.DeltaVel[0]
	f.dragDownSampled.AccelXY[1] += sample.DeltaVel[1]
	f.dragDownSampled.TimeUs += sample.TimeUs
	f.dragSampleTimeDt += sample.DeltaVelDt

	minSampleRatio := int(math.Ceil(float64(f.imuBufferLength) / float64(f.obsBufferLength)))
	if minSampleRatio < 5 {
		minSampleRatio = 5
	}

	if f.dragSampleCount >= minSampleRatio {
		f.dragDownSampled.AccelXY[0] /= f.dragSampleTimeDt
		f.dragDownSampled.AccelXY[1] /= f.dragSampleTimeDt
		f.dragDownSampled.TimeUs /= int64(f.dragSampleCount)

		f.dragBuffer.Push(f.dragDownSampled)

		f.dragSampleCount = 0
		f.dragDownSampled = DragSample{}
		f.dragSampleTimeDt = 0
	}
}
