package dmarc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMalformed is returned for documents that do not parse or lack the
// required report metadata.
var ErrMalformed = errors.New("malformed dmarc report")

// ErrRead is returned when an extracted document can not be read.
var ErrRead = errors.New("could not read dmarc report")

const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// timestamps above this are treated as milliseconds
const millisecondThreshold = 1_000_000_000_000

// Feedback is a parsed aggregate report.
type Feedback struct {
	// Namespace of the root element, empty for unqualified documents
	Namespace string
	Metadata  Metadata
	Policy    PolicyPublished
	Records   []Record
}

type Metadata struct {
	OrgName  string
	Email    string
	ReportID string
	Begin    time.Time
	End      time.Time
}

type PolicyPublished struct {
	Domain string
	ADKIM  string
	ASPF   string
	P      string
}

type Record struct {
	SourceIP    string
	Count       int64
	Disposition string
	DKIM        string
	SPF         string
	HeaderFrom  string
	DKIMResults []DKIMResult
	SPFResults  []SPFResult
}

type DKIMResult struct {
	Domain   string
	Result   string
	Selector *string
}

type SPFResult struct {
	Domain string
	Result string
}

// ParseFile reads and parses the report at path.
func ParseFile(path string) (*Feedback, error) {
	content, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRead, path, err)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses the content of an aggregate report.
func Parse(content []byte) (*Feedback, error) {
	// some xmls contain invalid XML by adding an unclosed xs tag
	content = bytes.ReplaceAll(content, []byte(xsTag), []byte(""))

	root, err := decodeTree(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	l := newLookup(root)
	if l.find(root, "report_metadata") == nil {
		return nil, fmt.Errorf("%w: missing report_metadata", ErrMalformed)
	}

	f := &Feedback{Namespace: root.name.Space}
	f.Metadata.OrgName, _ = l.text(root, "report_metadata", "org_name")
	f.Metadata.Email, _ = l.text(root, "report_metadata", "email")
	f.Metadata.ReportID, _ = l.text(root, "report_metadata", "report_id")

	f.Metadata.Begin, err = timestamp(l, root, "begin")
	if err != nil {
		return nil, err
	}
	f.Metadata.End, err = timestamp(l, root, "end")
	if err != nil {
		return nil, err
	}

	f.Policy.Domain, _ = l.text(root, "policy_published", "domain")
	f.Policy.ADKIM, _ = l.text(root, "policy_published", "adkim")
	f.Policy.ASPF, _ = l.text(root, "policy_published", "aspf")
	f.Policy.P, _ = l.text(root, "policy_published", "p")

	for _, el := range l.descendants(root, "record") {
		f.Records = append(f.Records, parseRecord(l, el))
	}

	return f, nil
}

func parseRecord(l lookup, el *element) Record {
	var r Record
	r.SourceIP, _ = l.text(el, "row", "source_ip")
	count, _ := l.text(el, "row", "count")
	r.Count = parseCount(count)
	r.Disposition, _ = l.text(el, "row", "policy_evaluated", "disposition")
	r.DKIM, _ = l.text(el, "row", "policy_evaluated", "dkim")
	r.SPF, _ = l.text(el, "row", "policy_evaluated", "spf")
	r.HeaderFrom, _ = l.text(el, "identifiers", "header_from")

	auth := l.child(el, "auth_results")
	if auth == nil {
		return r
	}
	for _, d := range l.children(auth, "dkim") {
		var res DKIMResult
		res.Domain, _ = l.childText(d, "domain")
		res.Result, _ = l.childText(d, "result")
		if sel, ok := l.childText(d, "selector"); ok {
			res.Selector = &sel
		}
		r.DKIMResults = append(r.DKIMResults, res)
	}
	for _, s := range l.children(auth, "spf") {
		var res SPFResult
		res.Domain, _ = l.childText(s, "domain")
		res.Result, _ = l.childText(s, "result")
		r.SPFResults = append(r.SPFResults, res)
	}
	return r
}

func timestamp(l lookup, root *element, field string) (time.Time, error) {
	raw, ok := l.text(root, "report_metadata", "date_range", field)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing report_metadata/date_range/%s", ErrMalformed, field)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid report_metadata/date_range/%s %q", ErrMalformed, field, raw)
	}
	return time.Unix(NormalizeTimestamp(v), 0).UTC(), nil
}

// NormalizeTimestamp converts millisecond timestamps to seconds. Some
// producers report the window in milliseconds instead of seconds.
func NormalizeTimestamp(v int64) int64 {
	if v > millisecondThreshold {
		return v / 1000
	}
	return v
}

// parseCount never fails, a broken count field becomes 0.
func parseCount(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
