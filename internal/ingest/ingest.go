// Package ingest maps parsed aggregate reports onto the Report, Record and
// AuthResult tables. Every document is stored in its own transaction.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/firefart/dmarcstore/internal/dmarc"
	"github.com/firefart/dmarcstore/internal/models"
	"github.com/firefart/dmarcstore/internal/store"
)

// Storage runs a unit of work. The unit is committed only when fn returns nil.
type Storage interface {
	InTx(ctx context.Context, fn func(w store.Writer) error) error
}

// Resolver returns the host names of an ip address.
type Resolver interface {
	LookupNames(ctx context.Context, ip string) ([]string, error)
}

// Result describes a stored document.
type Result struct {
	File        string
	ID          int64
	ReportID    string
	Records     int
	AuthResults int
}

type Ingestor struct {
	storage  Storage
	resolver Resolver
	logger   *log.Logger
}

type Option func(*Ingestor)

// WithResolver enables reverse lookups of record source ips.
func WithResolver(r Resolver) Option {
	return func(i *Ingestor) {
		i.resolver = r
	}
}

func New(storage Storage, logger *log.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		storage: storage,
		logger:  logger,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IngestFile parses the xml document at xmlPath and stores it. Either all
// rows of the document are committed or none.
func (i *Ingestor) IngestFile(ctx context.Context, xmlPath string) (*Result, error) {
	feedback, err := dmarc.ParseFile(xmlPath)
	if err != nil {
		return nil, err
	}
	i.logger.Debug("parsed report", "file", xmlPath, "report_id", feedback.Metadata.ReportID, "namespace", feedback.Namespace, "records", len(feedback.Records))

	// lookups happen before the transaction is opened
	hosts := i.resolveSources(ctx, feedback)

	var result *Result
	err = i.storage.InTx(ctx, func(w store.Writer) error {
		var err error
		result, err = stage(ctx, w, xmlPath, feedback, hosts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not store %s: %w", xmlPath, err)
	}

	i.logger.Info("stored report", "file", xmlPath, "report_id", result.ReportID, "records", result.Records, "auth_results", result.AuthResults)
	return result, nil
}

// stage writes the report first, then every record with its auth results.
// Children reference their parent by the id returned from the insert.
func stage(ctx context.Context, w store.Writer, xmlPath string, f *dmarc.Feedback, hosts map[string]string) (*Result, error) {
	report := &models.Report{
		OrgName:      f.Metadata.OrgName,
		Email:        f.Metadata.Email,
		ReportID:     f.Metadata.ReportID,
		DateBegin:    f.Metadata.Begin,
		DateEnd:      f.Metadata.End,
		PolicyDomain: f.Policy.Domain,
		PolicyADKIM:  f.Policy.ADKIM,
		PolicyASPF:   f.Policy.ASPF,
		PolicyP:      f.Policy.P,
		RawFilePath:  xmlPath,
	}
	reportID, err := w.InsertReport(ctx, report)
	if err != nil {
		return nil, err
	}

	result := &Result{
		File:     xmlPath,
		ID:       reportID,
		ReportID: report.ReportID,
	}

	for _, r := range f.Records {
		record := &models.Record{
			ReportID:    reportID,
			SourceIP:    r.SourceIP,
			SourceHost:  hosts[r.SourceIP],
			Count:       r.Count,
			Disposition: r.Disposition,
			DKIMResult:  r.DKIM,
			SPFResult:   r.SPF,
			HeaderFrom:  r.HeaderFrom,
		}
		recordID, err := w.InsertRecord(ctx, record)
		if err != nil {
			return nil, err
		}
		result.Records++

		for _, d := range r.DKIMResults {
			a := &models.AuthResult{
				RecordID: recordID,
				Type:     models.AuthTypeDKIM,
				Domain:   d.Domain,
				Result:   d.Result,
				Selector: d.Selector,
			}
			if _, err := w.InsertAuthResult(ctx, a); err != nil {
				return nil, err
			}
			result.AuthResults++
		}
		for _, s := range r.SPFResults {
			a := &models.AuthResult{
				RecordID: recordID,
				Type:     models.AuthTypeSPF,
				Domain:   s.Domain,
				Result:   s.Result,
			}
			if _, err := w.InsertAuthResult(ctx, a); err != nil {
				return nil, err
			}
			result.AuthResults++
		}
	}

	return result, nil
}

func (i *Ingestor) resolveSources(ctx context.Context, f *dmarc.Feedback) map[string]string {
	if i.resolver == nil {
		return nil
	}
	hosts := make(map[string]string)
	for _, r := range f.Records {
		if r.SourceIP == "" {
			continue
		}
		if _, ok := hosts[r.SourceIP]; ok {
			continue
		}
		names, err := i.resolver.LookupNames(ctx, r.SourceIP)
		if err != nil {
			i.logger.Debug("could not resolve source", "ip", r.SourceIP, "err", err)
		}
		hosts[r.SourceIP] = strings.Join(names, ", ")
	}
	return hosts
}
