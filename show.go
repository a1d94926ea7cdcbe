package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefart/dmarcstore/internal/store"
	"github.com/firefart/dmarcstore/internal/web"
)

var showCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Print a stored report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := store.Open(settings.DatabasePath)
	if err != nil {
		return fmt.Errorf("could not open database %s: %w", settings.DatabasePath, err)
	}
	defer s.Close()

	report, err := s.GetReport(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	b, err := web.MarshalReport(report)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
