package gps

// Position is the minimal lat/lon/altitude triple the OLED display panel
// renders; the display reads it from its own topic (TopicGPSPosition),
// separate from the richer Fix/FixQuality records the EKF ingest host
// consumes. RunGPSProducer publishes only Fix and FixQuality, not Position.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"` // meters above mean sea level
}

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "2025-12-06"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void), etc.
}

// FixQuality carries the GGA fields RMC doesn't: fix type, satellite
// count and altitude. The EKF ingest host needs FixType to gate GPS
// aiding and AltitudeM to feed setGpsData's alt_mm field.
type FixQuality struct {
	FixType        int     `json:"fix_type"`        // 0=no fix, 1=GPS, 2=DGPS, 4=RTK fixed, 5=RTK float
	SatellitesUsed int     `json:"satellites_used"`
	HDOP           float64 `json:"hdop"`
	AltitudeM      float64 `json:"altitude_m"`  // above mean sea level
	GeoidSepM      float64 `json:"geoid_sep_m"` // geoid separation, for ellipsoid-height conversion
}
