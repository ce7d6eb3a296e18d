// Package glucose defines the normalized glucose entry that is sent to a
// Nightscout site, along with the mmol/L to mg/dL unit conversion.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package glucose

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the Nightscout entry type of a reading.
type Kind string

const (
	// SensorGlucose is a periodic or scanned reading from the sensor
	SensorGlucose Kind = "sgv"

	// MeterGlucose is a manual blood glucose strip reading
	MeterGlucose Kind = "mbg"
)

// The molar mass factor that takes mmol/L to mg/dL
const mgdlPerMmol = 18.018018

// The dateString layout. Unlike time.RFC3339 a zero offset is written as
// +00:00 rather than Z.
const isoLayout = "2006-01-02T15:04:05-07:00"

// Entry is one glucose reading in the form Nightscout stores it.
type Entry struct {
	Kind  Kind      // Sensor or meter reading
	Value int       // Concentration in mg/dL
	Date  time.Time // The instant of the reading, carrying the offset it was parsed with
}

// ToMgdl converts a mmol/L concentration to mg/dL, truncating any fraction.
func ToMgdl(mmol float64) int {
	return int(mmol * mgdlPerMmol)
}

// EpochMillis returns the reading instant as Unix milliseconds.
func (e Entry) EpochMillis() int64 {
	return e.Date.UnixMilli()
}

// DateString returns the reading instant in ISO 8601 form with its offset.
func (e Entry) DateString() string {
	return e.Date.Format(isoLayout)
}

// MarshalJSON writes the entry using the Nightscout wire shape, where the
// value is keyed by the entry type:
//
//	{"type":"sgv","sgv":108,"date":1704096000000,"dateString":"2024-01-01T08:00:00+00:00"}
func (e Entry) MarshalJSON() ([]byte, error) {

	// Only the two known kinds can be sent, anything else is a programming error
	if e.Kind != SensorGlucose && e.Kind != MeterGlucose {
		return nil, fmt.Errorf("unknown glucose entry kind %q", e.Kind)
	}

	// The value field is named after the kind so it cannot be a struct tag
	wire := map[string]interface{}{
		"type":       string(e.Kind),
		"date":       e.EpochMillis(),
		"dateString": e.DateString(),
	}
	wire[string(e.Kind)] = e.Value

	return json.Marshal(wire)
}
