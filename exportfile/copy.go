package exportfile

// Taking dated copies of the export file.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// The timestamp substituted for the * in the glob pattern when naming a copy
const copyTimestampLayout = "2006-01-02T1504"

// CopyIfNewer copies the export file at exportPath alongside the files that
// match pattern when it has been modified more recently than the newest of
// them, or when there are no copies yet. It returns the path of the copy and
// true if a copy was made, or the newest existing match and false if not.
func CopyIfNewer(fs billy.Filesystem, exportPath, pattern string) (string, bool, error) {

	// The export file itself must exist, it is where all new data comes from
	exportInfo, err := fs.Stat(exportPath)
	if err != nil {
		return "", false, fmt.Errorf("could not access export file: %w", err)
	}

	// Find the newest copy we already have, if any
	latest, err := Latest(fs, pattern)
	if err != nil && !errors.Is(err, ErrNoMatchingFile) {
		return "", false, err
	}
	if err == nil {
		latestInfo, err := fs.Stat(latest)
		if err != nil {
			return "", false, fmt.Errorf("could not access latest export copy: %w", err)
		}

		// The copy is written after the export was modified so an unchanged
		// export always looks older than its copy
		if !exportInfo.ModTime().After(latestInfo.ModTime()) {
			return latest, false, nil
		}
	}

	// Name the copy after the modification time of the export
	copyPath := strings.ReplaceAll(pattern, "*", exportInfo.ModTime().Format(copyTimestampLayout))
	if copyPath == pattern {
		return "", false, fmt.Errorf("export file pattern has no * to substitute: %s", pattern)
	}

	data, err := util.ReadFile(fs, exportPath)
	if err != nil {
		return "", false, fmt.Errorf("could not read export file: %w", err)
	}
	if err := util.WriteFile(fs, copyPath, data, 0o644); err != nil {
		return "", false, fmt.Errorf("could not write export copy: %w", err)
	}

	return copyPath, true, nil
}
