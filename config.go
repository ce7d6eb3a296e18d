package main

// Run settings, gathered from flags, LIBRESYNC_* environment variables, and
// an optional YAML configuration file.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mikebway/libresync/nightscout"
)

// Setting keys, shared by flags, environment variables, and the config file
const (
	keyConfig        = "config"
	keyAPISecret     = "api-secret"
	keyBaseURL       = "base-url"
	keyLibreTSV      = "libre-tsv"
	keyLibreTSVGlob  = "libre-tsv-glob"
	keyDryRun        = "dry-run"
	keyTimeout       = "timeout"
	keyUTCOffset     = "utc-offset"
	keyArchiveBucket = "archive-bucket"
	keyArchivePrefix = "archive-prefix"
	keyVerbose       = "verbose"
)

// The prefix of environment variables, e.g. LIBRESYNC_API_SECRET
const envPrefix = "LIBRESYNC"

// Where the config file is looked for below the XDG config directories
const defaultConfigFile = "libresync/config.yaml"

// settings holds everything one run needs to know.
type settings struct {
	APISecret     string
	BaseURL       string
	LibreTSV      string
	LibreTSVGlob  string
	DryRun        bool
	Timeout       time.Duration
	UTCOffset     string
	ArchiveBucket string
	ArchivePrefix string
	Verbose       bool
}

// defineFlags adds the command line flags for every setting.
func defineFlags(flags *pflag.FlagSet) {
	flags.String(keyConfig, "", "YAML configuration file (default $XDG_CONFIG_HOME/"+defaultConfigFile+")")
	flags.String(keyAPISecret, "", "API-SECRET of the Nightscout site")
	flags.String(keyBaseURL, "", "Base URL of the Nightscout site")
	flags.String(keyLibreTSV, "", "Export data file written by the FreeStyle Libre desktop app")
	flags.String(keyLibreTSVGlob, "", "Glob for dated copies of the export, of the form /path/to/dir/libre-*.txt")
	flags.Bool(keyDryRun, false, "Report new entries without uploading them to Nightscout")
	flags.Duration(keyTimeout, nightscout.DefaultTimeout, "Time limit for each Nightscout request")
	flags.String(keyUTCOffset, "", "UTC offset of the export timestamps, e.g. +01:00 (default the current local offset)")
	flags.String(keyArchiveBucket, "", "S3 bucket to archive new export copies to")
	flags.String(keyArchivePrefix, "", "Key prefix for archived export copies")
	flags.BoolP(keyVerbose, "v", false, "Log debug detail")
}

// loadSettings resolves the settings from flags, environment, and config file,
// in that order of precedence, and checks that nothing required is missing.
func loadSettings(v *viper.Viper, flags *pflag.FlagSet) (*settings, error) {

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("could not bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// An explicit config file must exist, the default one is optional
	if configFile := v.GetString(keyConfig); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	} else if configFile, err := xdg.SearchConfigFile(defaultConfigFile); err == nil {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	s := &settings{
		APISecret:     v.GetString(keyAPISecret),
		BaseURL:       v.GetString(keyBaseURL),
		LibreTSV:      v.GetString(keyLibreTSV),
		LibreTSVGlob:  v.GetString(keyLibreTSVGlob),
		DryRun:        v.GetBool(keyDryRun),
		Timeout:       v.GetDuration(keyTimeout),
		UTCOffset:     v.GetString(keyUTCOffset),
		ArchiveBucket: v.GetString(keyArchiveBucket),
		ArchivePrefix: v.GetString(keyArchivePrefix),
		Verbose:       v.GetBool(keyVerbose),
	}

	// Report every missing setting at once rather than one per attempt
	var missing []error
	for _, required := range []struct{ key, value string }{
		{keyAPISecret, s.APISecret},
		{keyBaseURL, s.BaseURL},
		{keyLibreTSV, s.LibreTSV},
		{keyLibreTSVGlob, s.LibreTSVGlob},
	} {
		if required.value == "" {
			missing = append(missing, fmt.Errorf("missing required setting: %s", required.key))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	if s.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive: %s", s.Timeout)
	}

	// The export paths are used on a filesystem rooted at /
	var err error
	if s.LibreTSV, err = filepath.Abs(s.LibreTSV); err != nil {
		return nil, fmt.Errorf("could not resolve export file path: %w", err)
	}
	if s.LibreTSVGlob, err = filepath.Abs(s.LibreTSVGlob); err != nil {
		return nil, fmt.Errorf("could not resolve export glob: %w", err)
	}

	return s, nil
}

// location returns the fixed zone that export timestamps are read in. The
// export carries no offset of its own, so one offset is applied to the whole
// file; readings taken before a daylight saving change will be an hour out.
func (s *settings) location(now time.Time) (*time.Location, error) {

	// Without an explicit offset use whatever is in force right now
	if s.UTCOffset == "" {
		_, offset := now.Zone()
		return time.FixedZone("", offset), nil
	}

	parsed, err := time.Parse("Z07:00", s.UTCOffset)
	if err != nil {
		return nil, fmt.Errorf("invalid utc-offset %q, expected a form like +01:00: %w", s.UTCOffset, err)
	}
	_, offset := parsed.Zone()
	return time.FixedZone("", offset), nil
}
