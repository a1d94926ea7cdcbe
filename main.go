package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/config"
	"github.com/firefart/dmarcstore/internal/logging"
)

var rootFlags struct {
	configFile string
	debug      bool
}

var (
	settings *config.Configuration
	logger   *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dmarcstore",
	Short: "Store DMARC aggregate reports in SQLite",
	Long: `dmarcstore extracts DMARC aggregate reports from zip, gzip and tar.gz
archives and stores every report with its records and authentication results
in a SQLite database. Reports can be ingested from local files, an IMAP
mailbox, a drop directory or HTTP uploads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootFlags.configFile == "" {
			return fmt.Errorf("please supply a config file")
		}
		var err error
		settings, err = config.GetConfig(config.Defaults(), rootFlags.configFile)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", rootFlags.configFile, err)
		}
		logger, err = logging.New(os.Stdout, settings.LogLevel, settings.LogFormat, rootFlags.debug)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configFile, "config", "c", "", "Config File to use")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "Print debug output")
}

func main() {
	// trap Ctrl+C and SIGTERM and call cancel on the context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error(err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
