package main

import (
	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/mailbox"
)

var pollFlags struct {
	once bool
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch reports from an IMAP mailbox",
	Long: `Poll the configured IMAP folder for unseen report emails. The first run
starts immediately, further runs happen every fetchInterval. Messages are
marked as seen once their reports are stored; messages hitting a storage
failure stay unseen and are retried on the next run.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)

	pollCmd.Flags().BoolVar(&pollFlags.once, "once", false, "poll the mailbox once and exit")
}

func runPoll(cmd *cobra.Command, args []string) error {
	if err := settings.ValidateIMAP(); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p := mailbox.New(settings.ImapConfig, settings.BatchSize, settings.UploadDir, settings.ExtractDir,
		a.pipeline, logger.With("component", "mailbox"))
	if pollFlags.once {
		return p.Poll(cmd.Context())
	}
	return p.Run(cmd.Context(), settings.FetchInterval.Duration)
}
