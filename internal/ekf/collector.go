// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

// imuCollector decides when enough raw IMU ticks have been accumulated
// to emit one down-sampled prediction step. It sums delta angle/velocity
// increments until the accumulated delta_ang_dt reaches targetDt, then
// reports the combined sample with correct delta_ang_dt/delta_vel_dt and
// time_us stamped at the end of the interval.
type imuCollector struct {
	targetDt float64 // s

	accumulating bool
	sum          IMUSample
}

// collect folds in one raw tick and reports whether a down-sampled
// sample is ready. When it returns true, the returned sample is the
// one to push; the collector's internal accumulator is reset.
func (c *imuCollector) collect(tick IMUSample) (bool, IMUSample) {
	if !c.accumulating {
		c.sum = tick
		c.accumulating = true
	} else {
		c.sum.DeltaAng[0] += tick.DeltaAng[0]
		c.sum.DeltaAng[1] += tick.DeltaAng[1]
		c.sum.DeltaAng[2] += tick.DeltaAng[2]
		c.sum.DeltaVel[0] += tick.DeltaVel[0]
		c.sum.DeltaVel[1] += tick.DeltaVel[1]
		c.sum.DeltaVel[2] += tick.DeltaVel[2]
		c.sum.DeltaAngDt += tick.DeltaAngDt
		c.sum.DeltaVelDt += tick.DeltaVelDt
		c.sum.TimeUs = tick.TimeUs
	}

	if c.sum.DeltaAngDt >= c.targetDt {
		out := c.sum
		c.accumulating = false
		c.sum = IMUSample{}
		return true, out
	}
	return false, IMUSample{}
}
