package libretsv

// Streaming access to the glucose entries of an export file.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/mikebway/libresync/glucose"
)

// The number of lines ahead of the first record: the patient name and the column titles
const preambleLines = 2

// Reader hands out the glucose entries of an export file one at a time, in
// file order. A Reader cannot be rewound.
type Reader struct {
	buf      *bufio.Reader
	tsv      *csv.Reader
	window   Window
	loc      *time.Location
	preamble bool // True once the patient name and header lines have been consumed
}

// NewReader returns a Reader over the export data in r. Only entries inside
// the window are returned, with timestamps interpreted in loc.
func NewReader(r io.Reader, window Window, loc *time.Location) *Reader {

	// The export is tab separated, rows vary in length with their record type,
	// and free text columns are not reliably quoted
	buf := bufio.NewReader(r)
	tsv := csv.NewReader(buf)
	tsv.Comma = '\t'
	tsv.FieldsPerRecord = -1
	tsv.LazyQuotes = true
	tsv.ReuseRecord = true

	return &Reader{buf: buf, tsv: tsv, window: window, loc: loc}
}

// Read returns the next eligible entry. It returns io.EOF when the file has
// been exhausted. Any other error is fatal for the whole file.
func (r *Reader) Read() (glucose.Entry, error) {

	// Step over the patient name and column header lines the first time through
	if !r.preamble {
		if err := r.skipPreamble(); err != nil {
			return glucose.Entry{}, err
		}
		r.preamble = true
	}

	// Keep reading until we find a record that converts to an entry
	for {
		record, err := r.tsv.Read()
		if err == io.EOF {
			return glucose.Entry{}, io.EOF
		}
		if err != nil {
			return glucose.Entry{}, fmt.Errorf("failed to read export record: %w", err)
		}

		entry, ok, err := Convert(record, r.window, r.loc)
		if err != nil {
			line, _ := r.tsv.FieldPos(0)
			return glucose.Entry{}, fmt.Errorf("line %d: %w", line+preambleLines, err)
		}
		if ok {
			return entry, nil
		}
	}
}

// ReadAll returns every remaining eligible entry in file order.
func (r *Reader) ReadAll() ([]glucose.Entry, error) {
	var entries []glucose.Entry
	for {
		entry, err := r.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}

// skipPreamble discards the lines ahead of the first record. Their content is
// not checked, the export format simply always has them. Blank lines count,
// so they are read straight off the stream rather than through the csv reader.
func (r *Reader) skipPreamble() error {
	for i := 0; i < preambleLines; i++ {
		line, err := r.buf.ReadString('\n')
		if err == io.EOF && line != "" {
			continue // A final line without a newline still counts
		}
		if err == io.EOF {
			return fmt.Errorf("%w: export ends within its %d line preamble", ErrMalformedRecord, preambleLines)
		}
		if err != nil {
			return fmt.Errorf("failed to read export preamble: %w", err)
		}
	}
	return nil
}

// ReadFile loads the eligible entries of the export file at path.
func ReadFile(fs billy.Filesystem, path string, window Window, loc *time.Location) ([]glucose.Entry, error) {

	// Open the input file
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open export file: %w", err)
	}
	defer file.Close()

	entries, err := NewReader(file, window, loc).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entries, nil
}

// IsMalformed reports whether err was caused by unusable export content
// rather than by failing to read the file at all.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrMalformedTimestamp)
}
