// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import "log"

// halfPeriodUs is subtracted from a corrected timestamp for streams
// whose correction centers them on the filter tick (§4.4).
func (f *Frontend) halfPeriodUs() int64 {
	return int64(f.params.FilterUpdatePeriodMS) * 1000 / 2
}

// ingestAiding implements the common aiding-stream template shared by
// every setXData entry point: skip silently until initialised, lazily
// allocate on first use (sticky on failure), rate-limit against
// minObsInterval, evaluate any extra stream-specific gate, build the
// sample, stamp *timeLast with the uncorrected arrival time and push.
//
// It returns true if a sample was pushed, so callers that need to act
// on acceptance (none currently do) can observe it.
func ingestAiding[T timestamped](
	f *Frontend,
	buf *RingBuffer[T],
	bufferFail *bool,
	name string,
	timeUsec int64,
	timeLast *int64,
	gate func() bool,
	build func() T,
) bool {
	if !f.initialised || *bufferFail {
		return false
	}

	if buf.GetLength() < f.obsBufferLength {
		*bufferFail = !buf.Allocate(f.obsBufferLength)
		if *bufferFail {
			log.Printf("ekf: %s buffer allocation failed", name)
			return false
		}
	}

	if timeUsec-*timeLast <= f.minObsInterval {
		return false
	}
	if gate != nil && !gate() {
		return false
	}

	sample := build()
	*timeLast = timeUsec
	buf.Push(sample)
	return true
}

func alwaysGate() bool { return true }

// SetMagData ingests one magnetometer reading.
func (f *Frontend) SetMagData(timeUsec int64, mag Vec3) {
	ingestAiding(f, &f.magBuffer, &f.magBufferFail, "mag", timeUsec, &f.timeLastMag, alwaysGate, func() MagSample {
		return MagSample{
			Mag:    mag,
			TimeUs: timeUsec - int64(f.params.MagDelayMS)*1000 - f.halfPeriodUs(),
		}
	})
}

// SetBaroData ingests one barometric height reading.
func (f *Frontend) SetBaroData(timeUsec int64, hgt float64) {
	ingestAiding(f, &f.baroBuffer, &f.baroBufferFail, "baro", timeUsec, &f.timeLastBaro, alwaysGate, func() BaroSample {
		t := timeUsec - int64(f.params.BaroDelayMS)*1000 - f.halfPeriodUs()
		t = maxI64(t, f.imuSampleDelayed.TimeUs)
		return BaroSample{Hgt: hgt, TimeUs: t}
	})
}

// SetAirspeedData ingests one pitot/static airspeed reading.
func (f *Frontend) SetAirspeedData(timeUsec int64, trueAirspeed, eas2tas float64) {
	ingestAiding(f, &f.airspeedBuffer, &f.airspeedBufferFail, "airspeed", timeUsec, &f.timeLastAirspeed, alwaysGate, func() AirspeedSample {
		return AirspeedSample{
			TrueAirspeed: trueAirspeed,
			Eas2Tas:      eas2tas,
			TimeUs:       timeUsec - int64(f.params.AirspeedDelayMS)*1000 - f.halfPeriodUs(),
		}
	})
}

// SetRangeData ingests one range-finder reading. Range is not
// half-period corrected and not floored to the delayed IMU; the spec
// treats the rate limit as sufficient for this stream.
func (f *Frontend) SetRangeData(timeUsec int64, rng float64) {
	ingestAiding(f, &f.rangeBuffer, &f.rangeBufferFail, "range", timeUsec, &f.timeLastRange, alwaysGate, func() RangeSample {
		return RangeSample{
			Rng:    rng,
			TimeUs: timeUsec - int64(f.params.RangeDelayMS)*1000,
		}
	})
}

// SetExtVisionData ingests one external-vision pose estimate.
func (f *Frontend) SetExtVisionData(timeUsec int64, quat Vec4, posNED Vec3, angErr, posErr float64) {
	ingestAiding(f, &f.evBuffer, &f.evBufferFail, "external vision", timeUsec, &f.timeLastEv, alwaysGate, func() ExtVisionSample {
		return ExtVisionSample{
			Quat:   quat,
			PosNED: posNED,
			AngErr: angErr,
			PosErr: posErr,
			TimeUs: timeUsec - int64(f.params.EvDelayMS)*1000,
		}
	})
}

// SetAuxVelData ingests one auxiliary horizontal velocity observation.
func (f *Frontend) SetAuxVelData(timeUsec int64, velNE, velVarNE Vec2) {
	ingestAiding(f, &f.auxVelBuffer, &f.auxVelBufferFail, "aux vel", timeUsec, &f.timeLastAuxvel, alwaysGate, func() AuxVelSample {
		return AuxVelSample{
			VelNE:    velNE,
			VelVarNE: velVarNE,
			TimeUs:   timeUsec - int64(f.params.AuxVelDelayMS)*1000 - f.halfPeriodUs(),
		}
	})
}

// SetGPSData ingests one GPS fix. It is additionally gated on the GPS
// fusion flag (or the vertical-distance sensor selector) and on
// fix_type, and its timestamp is floored to the delayed IMU sample.
// Position is projected through f.projection only once a reference
// origin has been set; until then Pos stays zero.
func (f *Frontend) SetGPSData(timeUsec int64, gps GPSMessage) {
	needGPS := f.params.FusionMode&MaskUseGPS != 0 || f.params.VDistSensorType == VDistSensorGPS
	gate := func() bool { return needGPS && gps.FixType > 2 }

	ingestAiding(f, &f.gpsBuffer, &f.gpsBufferFail, "gps", timeUsec, &f.timeLastGps, gate, func() GPSSample {
		t := gps.TimeUsec - int64(f.params.GPSDelayMS)*1000 - f.halfPeriodUs()
		t = maxI64(t, f.imuSampleDelayed.TimeUs)

		f.gpsSpeedValid = gps.VelNEDValid

		sample := GPSSample{
			Vel:    gps.VelNED,
			Hgt:    float64(gps.AltMM) * 1e-3,
			HAcc:   gps.EPH,
			VAcc:   gps.EPV,
			SAcc:   gps.SAcc,
			TimeUs: t,
		}

		if x, y, ok := f.projection.Project(float64(gps.LatE7)/1e7, float64(gps.LonE7)/1e7); ok {
			sample.Pos = Vec2{x, y}
		}

		return sample
	})
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
