// Package libretsv reads the tab separated export file written by the FreeStyle
// Libre desktop application and converts its glucose rows into Nightscout
// entries.
//
// The export starts with a patient name line and a column header line,
// followed by one record per line. Only three record types carry a glucose
// value that we care about: historic (periodic) sensor readings, scanned
// sensor readings, and manual strip readings. Everything else (notes, insulin,
// food, ...) is skipped.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package libretsv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mikebway/libresync/glucose"
)

// The layout of the device local timestamp in the second column
const timestampLayout = "2006/01/02 15:04"

// Column positions within an export record
const (
	timestampField     = 1
	recordTypeField    = 2
	historicValueField = 3
	scanValueField     = 4
	stripValueField    = 12
)

// Record type codes that carry a glucose value
const (
	historicRecord = 0
	scanRecord     = 1
	stripRecord    = 2
)

var (
	// ErrMalformedTimestamp is returned when a record timestamp cannot be parsed
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrMalformedRecord is returned when a record is missing fields or carries
	// a value that is not a number
	ErrMalformedRecord = errors.New("malformed record")
)

// Record is one row of the export file, split on tabs.
type Record []string

// Window is the open interval of instants that are eligible for upload.
// Readings at or before After are already known to Nightscout; readings at
// or after Before are in the future and are assumed to be device clock skew.
type Window struct {
	After  time.Time
	Before time.Time
}

// Contains reports whether t lies strictly inside the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.After) && t.Before(w.Before)
}

// reading binds the column that holds the glucose value for one record type
// to the kind of entry it produces.
type reading struct {
	kind  glucose.Kind
	field int
}

// readings maps each glucose record type to where its value is found
var readings = map[int]reading{
	historicRecord: {kind: glucose.SensorGlucose, field: historicValueField},
	scanRecord:     {kind: glucose.SensorGlucose, field: scanValueField},
	stripRecord:    {kind: glucose.MeterGlucose, field: stripValueField},
}

// Convert turns a single export record into a glucose entry. The timestamp is
// interpreted in the given location. The boolean result is false, with a nil
// error, when the record falls outside the window or is not a glucose record.
func Convert(record Record, window Window, loc *time.Location) (glucose.Entry, bool, error) {

	// We cannot say anything about a record without its timestamp
	if len(record) <= timestampField {
		return glucose.Entry{}, false, fmt.Errorf("%w: %d fields, no timestamp", ErrMalformedRecord, len(record))
	}

	// Parse the device local time in the zone we were given
	date, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(record[timestampField]), loc)
	if err != nil {
		return glucose.Entry{}, false, fmt.Errorf("%w: %q: %v", ErrMalformedTimestamp, record[timestampField], err)
	}

	// Duplicates and future readings are dropped before anything else is examined
	if !window.Contains(date) {
		return glucose.Entry{}, false, nil
	}

	// Work out which kind of record this is
	if len(record) <= recordTypeField {
		return glucose.Entry{}, false, fmt.Errorf("%w: %d fields, no record type", ErrMalformedRecord, len(record))
	}
	recordType, err := strconv.Atoi(strings.TrimSpace(record[recordTypeField]))
	if err != nil {
		return glucose.Entry{}, false, fmt.Errorf("%w: record type %q: %v", ErrMalformedRecord, record[recordTypeField], err)
	}

	// Records other than glucose readings are of no interest
	binding, ok := readings[recordType]
	if !ok {
		return glucose.Entry{}, false, nil
	}

	// Pick up the mmol/L value from the column used by this record type
	if len(record) <= binding.field {
		return glucose.Entry{}, false, fmt.Errorf("%w: record type %d needs %d fields, found %d",
			ErrMalformedRecord, recordType, binding.field+1, len(record))
	}
	mmol, err := strconv.ParseFloat(strings.TrimSpace(record[binding.field]), 64)
	if err != nil {
		return glucose.Entry{}, false, fmt.Errorf("%w: glucose value %q: %v", ErrMalformedRecord, record[binding.field], err)
	}

	return glucose.Entry{Kind: binding.kind, Value: glucose.ToMgdl(mmol), Date: date}, true, nil
}
