package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefart/dmarcstore/internal/dmarc"
	"github.com/firefart/dmarcstore/internal/models"
	"github.com/firefart/dmarcstore/internal/store"
)

var (
	namespacedReport = filepath.Join("..", "dmarc", "testdata", "namespaced.xml")
	plainReport      = filepath.Join("..", "dmarc", "testdata", "plain.xml")
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeDoc(t *testing.T, reportID, begin, end string) string {
	t.Helper()
	doc := fmt.Sprintf(`<?xml version="1.0"?>
<feedback>
  <report_metadata>
    <org_name>acme</org_name>
    <email>dmarc@acme.test</email>
    <report_id>%s</report_id>
    <date_range><begin>%s</begin><end>%s</end></date_range>
  </report_metadata>
  <policy_published><domain>acme.test</domain><adkim>r</adkim><aspf>r</aspf><p>none</p></policy_published>
  <record>
    <row><source_ip>192.0.2.1</source_ip><count>1</count>
      <policy_evaluated><disposition>none</disposition><dkim>pass</dkim><spf>pass</spf></policy_evaluated>
    </row>
    <identifiers><header_from>acme.test</header_from></identifiers>
  </record>
</feedback>`, reportID, begin, end)
	p := filepath.Join(t.TempDir(), reportID+".xml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))
	return p
}

func counts(t *testing.T, s *store.Store) models.Counts {
	t.Helper()
	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	return c
}

func TestIngestAttributesAuthResults(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	res, err := i.IngestFile(context.Background(), namespacedReport)
	require.NoError(t, err)
	assert.Equal(t, "12845378466134981512", res.ReportID)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 3, res.AuthResults)
	assert.Equal(t, models.Counts{Reports: 1, Records: 2, AuthResults: 3}, counts(t, s))

	r, err := s.GetReport(context.Background(), res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, r.ID)
	require.Len(t, r.Records, 2)

	first := r.Records[0]
	assert.Equal(t, "209.85.220.41", first.SourceIP)
	require.Len(t, first.AuthResults, 3)
	var dkim, spf int
	for _, a := range first.AuthResults {
		assert.Equal(t, first.ID, a.RecordID)
		switch a.Type {
		case models.AuthTypeDKIM:
			dkim++
			assert.NotNil(t, a.Selector)
		case models.AuthTypeSPF:
			spf++
			assert.Nil(t, a.Selector)
		}
	}
	assert.Equal(t, 2, dkim)
	assert.Equal(t, 1, spf)

	second := r.Records[1]
	assert.Equal(t, "2001:db8::25", second.SourceIP)
	assert.Empty(t, second.AuthResults)
}

func TestIngestRoundTrip(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	_, err := i.IngestFile(context.Background(), namespacedReport)
	require.NoError(t, err)

	f, err := dmarc.ParseFile(namespacedReport)
	require.NoError(t, err)
	r, err := s.GetReport(context.Background(), f.Metadata.ReportID)
	require.NoError(t, err)

	assert.Equal(t, f.Metadata.OrgName, r.OrgName)
	assert.Equal(t, f.Metadata.Email, r.Email)
	assert.Equal(t, f.Metadata.ReportID, r.ReportID)
	assert.Equal(t, f.Metadata.Begin, r.DateBegin)
	assert.Equal(t, f.Metadata.End, r.DateEnd)
	assert.Equal(t, f.Policy.Domain, r.PolicyDomain)
	assert.Equal(t, f.Policy.ADKIM, r.PolicyADKIM)
	assert.Equal(t, f.Policy.ASPF, r.PolicyASPF)
	assert.Equal(t, f.Policy.P, r.PolicyP)
	assert.Equal(t, namespacedReport, r.RawFilePath)

	require.Len(t, r.Records, len(f.Records))
	for n, want := range f.Records {
		got := r.Records[n]
		assert.Equal(t, want.SourceIP, got.SourceIP)
		assert.Equal(t, want.Count, got.Count)
		assert.Equal(t, want.Disposition, got.Disposition)
		assert.Equal(t, want.DKIM, got.DKIMResult)
		assert.Equal(t, want.SPF, got.SPFResult)
		assert.Equal(t, want.HeaderFrom, got.HeaderFrom)
		require.Len(t, got.AuthResults, len(want.DKIMResults)+len(want.SPFResults))
		for k, d := range want.DKIMResults {
			assert.Equal(t, d.Domain, got.AuthResults[k].Domain)
			assert.Equal(t, d.Result, got.AuthResults[k].Result)
			assert.Equal(t, d.Selector, got.AuthResults[k].Selector)
		}
	}
}

func TestIngestWindowUnits(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	_, err := i.IngestFile(context.Background(), writeDoc(t, "seconds", "1700000000", "1700003600"))
	require.NoError(t, err)
	_, err = i.IngestFile(context.Background(), writeDoc(t, "millis", "1700000000000", "1700003600000"))
	require.NoError(t, err)

	sec, err := s.GetReport(context.Background(), "seconds")
	require.NoError(t, err)
	ms, err := s.GetReport(context.Background(), "millis")
	require.NoError(t, err)

	assert.Equal(t, 3600*time.Second, sec.DateEnd.Sub(sec.DateBegin))
	assert.Equal(t, sec.DateBegin, ms.DateBegin)
	assert.Equal(t, sec.DateEnd, ms.DateEnd)
}

func TestIngestDuplicate(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	_, err := i.IngestFile(context.Background(), namespacedReport)
	require.NoError(t, err)
	before := counts(t, s)

	_, err = i.IngestFile(context.Background(), namespacedReport)
	require.ErrorIs(t, err, store.ErrConflict)
	assert.NotErrorIs(t, err, dmarc.ErrMalformed)
	assert.Equal(t, before, counts(t, s))
}

func TestIngestMissingBegin(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	doc := `<feedback><report_metadata><report_id>x</report_id><date_range><end>1700003600</end></date_range></report_metadata></feedback>`
	p := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))

	_, err := i.IngestFile(context.Background(), p)
	require.ErrorIs(t, err, dmarc.ErrMalformed)
	assert.Contains(t, err.Error(), p)
	assert.Equal(t, models.Counts{}, counts(t, s))
}

// failingStorage fails the n-th auth result insert of a document.
type failingStorage struct {
	*store.Store
	failAt int
}

type failingWriter struct {
	store.Writer
	failAt int
	calls  int
}

var errInjected = errors.New("injected failure")

func (w *failingWriter) InsertAuthResult(ctx context.Context, a *models.AuthResult) (int64, error) {
	w.calls++
	if w.calls == w.failAt {
		return 0, errInjected
	}
	return w.Writer.InsertAuthResult(ctx, a)
}

func (f *failingStorage) InTx(ctx context.Context, fn func(w store.Writer) error) error {
	return f.Store.InTx(ctx, func(w store.Writer) error {
		return fn(&failingWriter{Writer: w, failAt: f.failAt})
	})
}

func TestIngestAllOrNothing(t *testing.T) {
	s := openStore(t)
	i := New(&failingStorage{Store: s, failAt: 3}, testLogger())

	_, err := i.IngestFile(context.Background(), namespacedReport)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, models.Counts{}, counts(t, s))

	// a sibling document is unaffected
	ok := New(s, testLogger())
	_, err = ok.IngestFile(context.Background(), plainReport)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Reports: 1, Records: 1, AuthResults: 2}, counts(t, s))
}

func TestIngestCanceled(t *testing.T) {
	s := openStore(t)
	i := New(s, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := i.IngestFile(ctx, plainReport)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.Counts{}, counts(t, s))
}

type fakeResolver struct {
	names  map[string][]string
	lookup []string
}

func (f *fakeResolver) LookupNames(_ context.Context, ip string) ([]string, error) {
	f.lookup = append(f.lookup, ip)
	names, ok := f.names[ip]
	if !ok {
		return nil, errors.New("NXDOMAIN")
	}
	return names, nil
}

func TestIngestResolvesSources(t *testing.T) {
	s := openStore(t)
	resolver := &fakeResolver{names: map[string][]string{
		"209.85.220.41": {"mail-sor-f41.google.com", "alias.google.com"},
	}}
	i := New(s, testLogger(), WithResolver(resolver))

	res, err := i.IngestFile(context.Background(), namespacedReport)
	require.NoError(t, err)
	assert.Equal(t, []string{"209.85.220.41", "2001:db8::25"}, resolver.lookup)

	r, err := s.GetReport(context.Background(), res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "mail-sor-f41.google.com, alias.google.com", r.Records[0].SourceHost)
	assert.Empty(t, r.Records[1].SourceHost)
}
