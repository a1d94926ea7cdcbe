package web

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/firefart/dmarcstore/internal/models"
	"github.com/firefart/dmarcstore/internal/pipeline"
)

type documentView struct {
	File        string `json:"file"`
	Outcome     string `json:"outcome"`
	ReportID    string `json:"report_id,omitempty"`
	Records     int    `json:"records,omitempty"`
	AuthResults int    `json:"auth_results,omitempty"`
	Error       string `json:"error,omitempty"`
}

type uploadView struct {
	File      string         `json:"file"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Documents []documentView `json:"documents"`
}

type summaryView struct {
	ID           int64     `json:"id"`
	ReportID     string    `json:"report_id"`
	OrgName      string    `json:"org_name"`
	PolicyDomain string    `json:"policy_domain"`
	DateBegin    time.Time `json:"date_begin"`
	DateEnd      time.Time `json:"date_end"`
	Records      int       `json:"records"`
	Messages     int64     `json:"messages"`
}

type authResultView struct {
	Type     string  `json:"type"`
	Domain   string  `json:"domain"`
	Result   string  `json:"result"`
	Selector *string `json:"selector"`
}

type recordView struct {
	SourceIP    string           `json:"source_ip"`
	SourceHost  string           `json:"source_host,omitempty"`
	Count       int64            `json:"count"`
	Disposition string           `json:"disposition"`
	DKIM        string           `json:"dkim"`
	SPF         string           `json:"spf"`
	HeaderFrom  string           `json:"header_from"`
	AuthResults []authResultView `json:"auth_results"`
}

type reportView struct {
	ID           int64        `json:"id"`
	ReportID     string       `json:"report_id"`
	OrgName      string       `json:"org_name"`
	Email        string       `json:"email"`
	DateBegin    time.Time    `json:"date_begin"`
	DateEnd      time.Time    `json:"date_end"`
	PolicyDomain string       `json:"policy_domain"`
	PolicyADKIM  string       `json:"policy_adkim"`
	PolicyASPF   string       `json:"policy_aspf"`
	PolicyP      string       `json:"policy_p"`
	Records      []recordView `json:"records"`
}

func newDocumentView(o pipeline.Outcome) documentView {
	v := documentView{
		File:    filepath.Base(o.File),
		Outcome: string(o.Kind),
	}
	if o.Result != nil {
		v.ReportID = o.Result.ReportID
		v.Records = o.Result.Records
		v.AuthResults = o.Result.AuthResults
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

func newSummaryView(s models.ReportSummary) summaryView {
	return summaryView{
		ID:           s.ID,
		ReportID:     s.ReportID,
		OrgName:      s.OrgName,
		PolicyDomain: s.PolicyDomain,
		DateBegin:    s.DateBegin,
		DateEnd:      s.DateEnd,
		Records:      s.RecordCount,
		Messages:     s.MessageCount,
	}
}

func newReportView(r *models.Report) reportView {
	v := reportView{
		ID:           r.ID,
		ReportID:     r.ReportID,
		OrgName:      r.OrgName,
		Email:        r.Email,
		DateBegin:    r.DateBegin,
		DateEnd:      r.DateEnd,
		PolicyDomain: r.PolicyDomain,
		PolicyADKIM:  r.PolicyADKIM,
		PolicyASPF:   r.PolicyASPF,
		PolicyP:      r.PolicyP,
		Records:      make([]recordView, 0, len(r.Records)),
	}
	for _, rec := range r.Records {
		rv := recordView{
			SourceIP:    rec.SourceIP,
			SourceHost:  rec.SourceHost,
			Count:       rec.Count,
			Disposition: rec.Disposition,
			DKIM:        rec.DKIMResult,
			SPF:         rec.SPFResult,
			HeaderFrom:  rec.HeaderFrom,
			AuthResults: make([]authResultView, 0, len(rec.AuthResults)),
		}
		for _, a := range rec.AuthResults {
			rv.AuthResults = append(rv.AuthResults, authResultView{
				Type:     string(a.Type),
				Domain:   a.Domain,
				Result:   a.Result,
				Selector: a.Selector,
			})
		}
		v.Records = append(v.Records, rv)
	}
	return v
}

// MarshalReport renders a report the way GET /reports/{reportID} does.
func MarshalReport(r *models.Report) ([]byte, error) {
	return json.MarshalIndent(newReportView(r), "", "  ")
}
