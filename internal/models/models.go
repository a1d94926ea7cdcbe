// Package models defines the persisted DMARC entities.
package models

import "time"

// AuthType is the authentication mechanism of an AuthResult.
type AuthType string

const (
	AuthTypeDKIM AuthType = "dkim"
	AuthTypeSPF  AuthType = "spf"
)

// Report is one ingested aggregate report. ReportID is the producer's
// identifier and is unique across all stored reports.
type Report struct {
	ID           int64
	OrgName      string
	Email        string
	ReportID     string
	DateBegin    time.Time
	DateEnd      time.Time
	PolicyDomain string
	PolicyADKIM  string
	PolicyASPF   string
	PolicyP      string
	RawFilePath  string
	Records      []Record
}

// Record is one <record> row of a report.
type Record struct {
	ID          int64
	ReportID    int64
	SourceIP    string
	SourceHost  string
	Count       int64
	Disposition string
	DKIMResult  string
	SPFResult   string
	HeaderFrom  string
	AuthResults []AuthResult
}

// AuthResult is one dkim or spf evaluation of a record. Selector is only
// set for dkim entries that carry one.
type AuthResult struct {
	ID       int64
	RecordID int64
	Type     AuthType
	Domain   string
	Result   string
	Selector *string
}

// ReportSummary is the list view of a stored report.
type ReportSummary struct {
	ID           int64
	ReportID     string
	OrgName      string
	PolicyDomain string
	DateBegin    time.Time
	DateEnd      time.Time
	RecordCount  int
	MessageCount int64
}

// Counts holds row totals of the three entity tables.
type Counts struct {
	Reports     int
	Records     int
	AuthResults int
}
