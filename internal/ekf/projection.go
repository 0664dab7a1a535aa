// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import "math"

// MapProjection converts a target lat/lon (decimal degrees) into local
// tangent-plane x/y (m, NE) relative to a reference origin. The fusion
// core is the real owner of the geographic projection primitive; this
// interface is the seam the GPS ingester calls through so the front-end
// never depends on a specific projection implementation.
type MapProjection interface {
	// Project returns local x (north), y (east) in meters, and false
	// if no reference origin has been set yet.
	Project(lat, lon float64) (x, y float64, ok bool)
}

const earthRadiusM = 6371000.0

// EquirectangularProjection is a small-area local tangent-plane
// projection: adequate for the scale a single flight operates over,
// where a full WGS-84 geodesic library would be overkill. It is set
// once a reference lat/lon is known.
type EquirectangularProjection struct {
	refLat, refLon float64
	set            bool
}

// SetReference establishes the origin used by subsequent Project calls.
func (p *EquirectangularProjection) SetReference(lat, lon float64) {
	p.refLat, p.refLon = lat, lon
	p.set = true
}

// HasReference reports whether SetReference has been called.
func (p *EquirectangularProjection) HasReference() bool {
	return p.set
}

// Project implements MapProjection.
func (p *EquirectangularProjection) Project(lat, lon float64) (x, y float64, ok bool) {
	if !p.set {
		return 0, 0, false
	}
	latRad := p.refLat * math.Pi / 180.0
	dLat := (lat - p.refLat) * math.Pi / 180.0
	dLon := (lon - p.refLon) * math.Pi / 180.0
	x = dLat * earthRadiusM
	y = dLon * earthRadiusM * math.Cos(latRad)
	return x, y, true
}
