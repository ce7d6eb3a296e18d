// Package syncer brings a Nightscout site up to date with the newest Libre
// export file. Each run finds the newest dated export, asks Nightscout for the
// time of its newest entry, reads every later reading from the export, and
// uploads them as a single batch.
//
// Nothing is remembered between runs: the newest Nightscout entry is the only
// record of how far previous runs got.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/mikebway/libresync/exportfile"
	"github.com/mikebway/libresync/glucose"
	"github.com/mikebway/libresync/libretsv"
)

// State is how far a run progressed.
type State int

// The states of a run, in the order they are reached
const (
	Started State = iota
	Located
	WatermarkResolved
	Ingested
	NothingToUpload
	DryRunReported
	Uploaded
	UploadFailed
)

var stateNames = map[State]string{
	Started:           "started",
	Located:           "located",
	WatermarkResolved: "watermark-resolved",
	Ingested:          "ingested",
	NothingToUpload:   "nothing-to-upload",
	DryRunReported:    "dry-run-reported",
	Uploaded:          "uploaded",
	UploadFailed:      "upload-failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Store is the remote side of a sync.
type Store interface {
	LatestTimestamp(ctx context.Context) (time.Time, error)
	UploadEntries(ctx context.Context, entries []glucose.Entry) (string, error)
}

// Options control a single run.
type Options struct {
	Pattern  string         // Glob matching the dated export copies
	DryRun   bool           // Report the batch without uploading it
	Now      time.Time      // The run start time, nothing at or after it is uploaded
	Location *time.Location // The fixed zone that export timestamps are read in, Now's offset if nil
}

// Result describes what a run did.
type Result struct {
	State     State
	File      string
	Watermark time.Time
	Entries   []glucose.Entry
}

// Syncer uploads export data found on a filesystem to a store.
type Syncer struct {
	fs     billy.Filesystem
	store  Store
	logger *slog.Logger
}

// New returns a Syncer reading exports from fs and writing to store.
func New(fs billy.Filesystem, store Store, logger *slog.Logger) *Syncer {
	return &Syncer{fs: fs, store: store, logger: logger}
}

// Run performs one sync. The returned Result is never nil and records the
// last state reached, including when an error is returned.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{State: Started}

	// One offset for the whole export, taken from Now unless one is given
	location := opts.Location
	if location == nil {
		_, offset := opts.Now.Zone()
		location = time.FixedZone("", offset)
	}

	// Find the newest export before touching the network at all
	file, err := exportfile.Latest(s.fs, opts.Pattern)
	if err != nil {
		return result, err
	}
	result.File = file
	result.State = Located
	s.logger.Info("latest Libre export", "file", file)

	// Without the watermark we cannot tell old readings from new ones
	watermark, err := s.store.LatestTimestamp(ctx)
	if err != nil {
		return result, fmt.Errorf("could not find the newest Nightscout entry: %w", err)
	}
	result.Watermark = watermark
	result.State = WatermarkResolved
	if watermark.Unix() == 0 {
		s.logger.Info("no entries found in Nightscout")
	} else {
		s.logger.Info("last timestamp in Nightscout", "watermark", watermark.In(location))
	}

	// Collect everything newer than the watermark and older than now
	window := libretsv.Window{After: watermark, Before: opts.Now.Truncate(time.Second)}
	entries, err := libretsv.ReadFile(s.fs, file, window, location)
	if err != nil {
		if libretsv.IsMalformed(err) {
			s.logger.Error("export file does not look like a Libre export, nothing will be uploaded", "file", file)
		}
		return result, err
	}
	result.Entries = entries
	result.State = Ingested
	for _, entry := range entries {
		s.logger.Info("new entry", "type", entry.Kind, "value", entry.Value, "date", entry.DateString())
	}

	if len(entries) == 0 {
		result.State = NothingToUpload
		s.logger.Info("no new entries")
		return result, nil
	}

	if opts.DryRun {
		result.State = DryRunReported
		s.logger.Info("dry run, not uploading to Nightscout", "count", len(entries))
		return result, nil
	}

	// The batch goes up in one request, it is never split or retried
	s.logger.Info("uploading to Nightscout", "count", len(entries))
	body, err := s.store.UploadEntries(ctx, entries)
	if err != nil {
		result.State = UploadFailed
		return result, fmt.Errorf("could not upload %d entries: %w", len(entries), err)
	}
	result.State = Uploaded
	s.logger.Info("uploaded successfully", "count", len(entries), "response", body)

	return result, nil
}
