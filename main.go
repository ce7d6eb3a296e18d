// A command line utility to upload glucose readings from a FreeStyle Libre
// export file to a Nightscout site. Only readings newer than the newest entry
// already in Nightscout are sent, so it is safe to run as often as you like.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikebway/libresync/exportfile"
	"github.com/mikebway/libresync/logging"
	"github.com/mikebway/libresync/nightscout"
	"github.com/mikebway/libresync/syncer"
)

var (
	unitTesting  = false // True if unit testing and NOT to os.Exit from the main function
	executeError error   // The error value obtained by Execute(), captured for unit test purposes
)

// Command line entry point.
func main() {

	// Interrupting the program abandons any request in flight
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	executeError = newRootCommand().ExecuteContext(ctx)
	stop()

	// Display any error that occured
	if executeError != nil {
		fmt.Printf("ERROR - %v\n", executeError.Error())

		// Do not exit if we are unit testing
		if !unitTesting {
			os.Exit(1)
		}
	}
}

// newRootCommand builds the command with its own flags and settings so that
// every invocation starts from a clean slate.
func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "libresync",
		Short: "Upload FreeStyle Libre export data to Nightscout",
		Long: `libresync uploads glucose readings to a Nightscout site:

1. Copies the Libre desktop app export file alongside earlier dated copies
   if it has changed since the newest copy was taken
2. Asks Nightscout for the time of its newest entry
3. Reads the newest dated copy and uploads every reading after that time`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, logging.New(cmd.OutOrStdout(), s.Verbose))
		},
	}
	defineFlags(cmd.Flags())

	return cmd
}

// run performs one complete sync with the given settings.
func run(ctx context.Context, s *settings, logger *slog.Logger) error {

	// Everything is measured against the moment we started
	now := time.Now()
	location, err := s.location(now)
	if err != nil {
		return err
	}
	logger.Info("current time", "now", now.In(location).Truncate(time.Second))

	// The export paths have been made absolute so the filesystem is rooted at /
	fs := osfs.New("/")

	// Take a dated copy of the export if the desktop app has written new data
	copyPath, copied, err := exportfile.CopyIfNewer(fs, s.LibreTSV, s.LibreTSVGlob)
	if err != nil {
		return err
	}
	if copied {
		logger.Info("new data found", "copy", copyPath)
		archive(ctx, s, fs, copyPath, logger)
	} else {
		logger.Info("no new data found", "latest", copyPath)
	}

	client := nightscout.NewClient(s.BaseURL, s.APISecret, &http.Client{Timeout: s.Timeout})
	result, err := syncer.New(fs, client, logger).Run(ctx, syncer.Options{
		Pattern:  s.LibreTSVGlob,
		DryRun:   s.DryRun,
		Now:      now,
		Location: location,
	})
	logger.Debug("sync finished", "state", result.State, "entries", len(result.Entries))
	return err
}

// archive sends a new export copy to S3 when a bucket is configured. Failing
// to archive is reported but does not stop the sync.
func archive(ctx context.Context, s *settings, fs billy.Filesystem, copyPath string, logger *slog.Logger) {
	if s.ArchiveBucket == "" {
		return
	}

	archiver, err := exportfile.NewDefaultS3Archiver(ctx, s.ArchiveBucket, s.ArchivePrefix)
	if err != nil {
		logger.Error("could not set up export archive", "error", err)
		return
	}

	key, err := archiver.Archive(ctx, fs, copyPath)
	if err != nil {
		logger.Error("could not archive export copy", "error", err)
		return
	}
	logger.Info("archived export copy", "bucket", s.ArchiveBucket, "key", key)
}
