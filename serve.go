package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/firefart/dmarcstore/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve report uploads and the stored reports over HTTP",
	Long: `Start the HTTP server on the configured listen address.

Routes:
  POST   /upload              multipart upload (field "file")
  GET    /reports             list stored reports
  GET    /reports/{reportID}  show a report with records and auth results
  DELETE /reports/{reportID}  delete a report
  GET    /metrics             Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	srv := web.NewServer(a.pipeline, a.store, web.Options{
		UploadDir:     settings.UploadDir,
		ExtractDir:    settings.ExtractDir,
		MaxUploadSize: settings.MaxUploadSize,
		Metrics:       a.metrics.Handler(),
	}, logger.With("component", "web"))

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", settings.Listen, err)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
