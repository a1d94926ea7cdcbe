package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/store"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Delete a stored report",
	Long:  `Delete a report and all its records and authentication results.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	s, err := store.Open(settings.DatabasePath)
	if err != nil {
		return fmt.Errorf("could not open database %s: %w", settings.DatabasePath, err)
	}
	defer s.Close()

	reportID := args[0]
	if err := s.DeleteReport(cmd.Context(), reportID); err != nil {
		return err
	}
	logger.Info("deleted report", "report_id", reportID)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", reportID)
	return err
}
