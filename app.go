package main

import (
	"fmt"
	"time"

	"github.com/firefart/dmarcstore/internal/dns"
	"github.com/firefart/dmarcstore/internal/ingest"
	"github.com/firefart/dmarcstore/internal/metrics"
	"github.com/firefart/dmarcstore/internal/pipeline"
	"github.com/firefart/dmarcstore/internal/store"
)

// dnsConnectTimeout bounds dialing the configured nameserver.
const dnsConnectTimeout = 1 * time.Second

type app struct {
	store    *store.Store
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

// newApp opens the database and wires the ingestion pipeline from the
// loaded settings.
func newApp() (*app, error) {
	s, err := store.Open(settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", settings.DatabasePath, err)
	}

	var opts []ingest.Option
	if settings.ResolveSources {
		resolver, err := dns.NewCachedDNSResolver(settings.DnsServer, dnsConnectTimeout,
			settings.DnsTimeout.Duration, settings.DnsCacheTimeout.Duration, logger.With("component", "dns"))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		opts = append(opts, ingest.WithResolver(resolver))
	}

	m := metrics.New()
	ingestor := ingest.New(s, logger.With("component", "ingest"), opts...)
	p := pipeline.New(ingestor, logger.With("component", "pipeline"),
		pipeline.WithWorkers(settings.IngestWorkers),
		pipeline.WithRecorder(m),
	)

	return &app{
		store:    s,
		metrics:  m,
		pipeline: p,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
