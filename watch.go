package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest report files dropped into a directory",
	Long: `Watch the configured watchDir and ingest every file created in it. Files
already present at start-up are processed first. Processed files are moved
to uploadDir. Producers should write to a hidden temporary name and rename
the file when it is complete.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if settings.WatchDir == "" {
		return fmt.Errorf("watchDir is not configured")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w := watch.New(settings.WatchDir, settings.UploadDir, settings.ExtractDir, a.pipeline, logger.With("component", "watch"))
	return w.Run(cmd.Context())
}
