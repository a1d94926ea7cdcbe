package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/firefart/dmarcstore/internal/archive"
	"github.com/firefart/dmarcstore/internal/ingest"
)

// Ingester stores a single xml document.
type Ingester interface {
	IngestFile(ctx context.Context, xmlPath string) (*ingest.Result, error)
}

// Recorder receives processing outcomes, see internal/metrics.
type Recorder interface {
	ObserveArchive(format, outcome string)
	ObserveDocument(outcome string, duration time.Duration)
}

// Outcome is the result of one xml document.
type Outcome struct {
	File   string
	Kind   Kind
	Result *ingest.Result
	Err    error
}

type Pipeline struct {
	ingester Ingester
	workers  int
	logger   *log.Logger
	recorder Recorder
}

type Option func(*Pipeline)

// WithWorkers sets how many documents of one archive are ingested in parallel.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

func New(ingester Ingester, logger *log.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		ingester: ingester,
		workers:  1,
		logger:   logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process extracts src into extractDir and ingests every xml document found.
// Plain xml files are ingested directly. The returned error is non nil if the
// archive could not be extracted (no outcomes) or if at least one document
// failed; documents are independent of each other.
func (p *Pipeline) Process(ctx context.Context, src, extractDir string) ([]Outcome, error) {
	format := archive.DetectFormat(src)

	var files []string
	if format == archive.FormatUnknown && archive.IsXML(src) {
		files = []string{src}
	} else {
		var err error
		files, err = archive.Extract(src, extractDir)
		if err != nil {
			p.observeArchive(format, Classify(err))
			return nil, err
		}
		p.logger.Debug("extracted archive", "file", src, "format", format, "documents", len(files))
	}
	p.observeArchive(format, KindOK)

	if len(files) == 0 {
		p.logger.Warn("archive contains no xml documents", "file", src)
		return nil, nil
	}

	outcomes := make([]Outcome, len(files))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for n, f := range files {
		g.Go(func() error {
			outcomes[n] = p.ingest(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			result = multierror.Append(result, o.Err)
		}
	}
	return outcomes, result.ErrorOrNil()
}

func (p *Pipeline) ingest(ctx context.Context, file string) Outcome {
	start := time.Now()
	res, err := p.ingester.IngestFile(ctx, file)
	o := Outcome{
		File:   file,
		Kind:   Classify(err),
		Result: res,
		Err:    err,
	}
	if p.recorder != nil {
		p.recorder.ObserveDocument(string(o.Kind), time.Since(start))
	}
	if err != nil {
		p.logger.Error("could not ingest document", "file", file, "kind", o.Kind, "err", err)
	}
	return o
}

func (p *Pipeline) observeArchive(format archive.Format, kind Kind) {
	if p.recorder == nil {
		return
	}
	name := format.String()
	if format == archive.FormatUnknown && kind == KindOK {
		name = "xml"
	}
	p.recorder.ObserveArchive(name, string(kind))
}
