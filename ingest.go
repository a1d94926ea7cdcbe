package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest local report archives or xml files",
	Long: `Extract every given archive (.zip, .gz, .tar.gz, .tgz) or plain .xml file
and store the contained reports. Documents are independent of each other: a
broken or duplicate document does not prevent its siblings from being stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var result *multierror.Error
	for _, f := range args {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		extractDir := filepath.Join(settings.ExtractDir, uuid.NewString())
		outcomes, err := a.pipeline.Process(cmd.Context(), f, extractDir)
		if err != nil && len(outcomes) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", f, pipeline.Classify(err), err)
		}
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", o.File, o.Kind, o.Err)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s (%d records, %d auth results)\n",
					o.File, o.Kind, o.Result.ReportID, o.Result.Records, o.Result.AuthResults)
			}
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f, err))
		}
	}
	return result.ErrorOrNil()
}
