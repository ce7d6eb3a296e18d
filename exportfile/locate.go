// Package exportfile manages the dated copies of the Libre export file: finding
// the newest one, taking a new copy when the desktop application has written
// fresh data, and optionally archiving copies to S3.
//
// Copies are named by replacing the * in a glob pattern such as
// /data/libre-*.txt with a sortable timestamp, so the lexically greatest match
// is always the most recent export.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package exportfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNoMatchingFile is returned when a glob pattern matches no files at all
var ErrNoMatchingFile = errors.New("no export file matches pattern")

// Latest returns the lexically greatest path matching the glob pattern.
func Latest(fs billy.Filesystem, pattern string) (string, error) {

	// A bad pattern only shows up when a name is matched against it, which an
	// empty directory never does
	if _, err := filepath.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("invalid export file pattern %q: %w", pattern, err)
	}

	matches, err := util.Glob(fs, pattern)
	if err != nil {
		return "", fmt.Errorf("could not search for export files: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingFile, pattern)
	}

	// Filenames embed a sortable timestamp, so name order is age order
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
