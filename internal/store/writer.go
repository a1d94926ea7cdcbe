package store

import (
	"context"
	"database/sql"

	"github.com/firefart/dmarcstore/internal/models"
)

// Writer stages rows inside a transaction. Every insert is executed
// immediately so the generated id is known before children are written.
type Writer interface {
	InsertReport(ctx context.Context, r *models.Report) (int64, error)
	InsertRecord(ctx context.Context, r *models.Record) (int64, error)
	InsertAuthResult(ctx context.Context, a *models.AuthResult) (int64, error)
}

type txWriter struct {
	tx *sql.Tx
}

// InsertReport inserts the report row and sets r.ID.
func (w *txWriter) InsertReport(ctx context.Context, r *models.Report) (int64, error) {
	result, err := w.tx.ExecContext(ctx,
		`INSERT INTO reports (org_name, email, report_id, date_begin, date_end, policy_domain, policy_adkim, policy_aspf, policy_p, raw_file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OrgName, r.Email, r.ReportID, r.DateBegin.Unix(), r.DateEnd.Unix(),
		r.PolicyDomain, r.PolicyADKIM, r.PolicyASPF, r.PolicyP, r.RawFilePath,
	)
	if err != nil {
		return 0, wrapErr("insert report", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, wrapErr("insert report", err)
	}
	r.ID = id
	return id, nil
}

// InsertRecord inserts a record of an already inserted report and sets r.ID.
func (w *txWriter) InsertRecord(ctx context.Context, r *models.Record) (int64, error) {
	result, err := w.tx.ExecContext(ctx,
		`INSERT INTO records (report_id, source_ip, source_host, count, disposition, dkim_result, spf_result, header_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReportID, r.SourceIP, r.SourceHost, r.Count, r.Disposition, r.DKIMResult, r.SPFResult, r.HeaderFrom,
	)
	if err != nil {
		return 0, wrapErr("insert record", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, wrapErr("insert record", err)
	}
	r.ID = id
	return id, nil
}

// InsertAuthResult inserts an auth result of an already inserted record and
// sets a.ID.
func (w *txWriter) InsertAuthResult(ctx context.Context, a *models.AuthResult) (int64, error) {
	result, err := w.tx.ExecContext(ctx,
		"INSERT INTO auth_results (record_id, auth_type, domain, result, selector) VALUES (?, ?, ?, ?, ?)",
		a.RecordID, string(a.Type), a.Domain, a.Result, a.Selector,
	)
	if err != nil {
		return 0, wrapErr("insert auth result", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, wrapErr("insert auth result", err)
	}
	a.ID = id
	return id, nil
}
