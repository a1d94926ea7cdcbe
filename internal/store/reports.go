package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firefart/dmarcstore/internal/models"
)

// GetReport returns the report with the given producer report id including
// its records and auth results in insertion order.
func (s *Store) GetReport(ctx context.Context, reportID string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_name, email, report_id, date_begin, date_end, policy_domain, policy_adkim, policy_aspf, policy_p, raw_file_path
		FROM reports WHERE report_id = ?`, reportID)

	var r models.Report
	var begin, end int64
	err := row.Scan(&r.ID, &r.OrgName, &r.Email, &r.ReportID, &begin, &end,
		&r.PolicyDomain, &r.PolicyADKIM, &r.PolicyASPF, &r.PolicyP, &r.RawFilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %q: %w", reportID, ErrNotFound)
	} else if err != nil {
		return nil, wrapErr("get report", err)
	}
	r.DateBegin = time.Unix(begin, 0).UTC()
	r.DateEnd = time.Unix(end, 0).UTC()

	records, err := s.recordsOfReport(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Records = records
	return &r, nil
}

func (s *Store) recordsOfReport(ctx context.Context, reportID int64) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, source_ip, source_host, count, disposition, dkim_result, spf_result, header_from
		FROM records WHERE report_id = ? ORDER BY id`, reportID)
	if err != nil {
		return nil, wrapErr("get records", err)
	}
	defer rows.Close()

	var records []models.Record
	index := make(map[int64]int)
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.ReportID, &r.SourceIP, &r.SourceHost, &r.Count,
			&r.Disposition, &r.DKIMResult, &r.SPFResult, &r.HeaderFrom); err != nil {
			return nil, wrapErr("scan record", err)
		}
		index[r.ID] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("get records", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	authRows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.record_id, a.auth_type, a.domain, a.result, a.selector
		FROM auth_results a JOIN records r ON r.id = a.record_id
		WHERE r.report_id = ? ORDER BY a.id`, reportID)
	if err != nil {
		return nil, wrapErr("get auth results", err)
	}
	defer authRows.Close()

	for authRows.Next() {
		var a models.AuthResult
		var authType string
		var selector sql.NullString
		if err := authRows.Scan(&a.ID, &a.RecordID, &authType, &a.Domain, &a.Result, &selector); err != nil {
			return nil, wrapErr("scan auth result", err)
		}
		a.Type = models.AuthType(authType)
		if selector.Valid {
			a.Selector = &selector.String
		}
		i := index[a.RecordID]
		records[i].AuthResults = append(records[i].AuthResults, a)
	}
	if err := authRows.Err(); err != nil {
		return nil, wrapErr("get auth results", err)
	}
	return records, nil
}

// ListReports returns a summary of all reports, newest reporting window first.
func (s *Store) ListReports(ctx context.Context) ([]models.ReportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.id, rp.report_id, rp.org_name, rp.policy_domain, rp.date_begin, rp.date_end,
			COUNT(rc.id), COALESCE(SUM(rc.count), 0)
		FROM reports rp
		LEFT JOIN records rc ON rc.report_id = rp.id
		GROUP BY rp.id
		ORDER BY rp.date_begin DESC, rp.id DESC
	`)
	if err != nil {
		return nil, wrapErr("list reports", err)
	}
	defer rows.Close()

	var reports []models.ReportSummary
	for rows.Next() {
		var r models.ReportSummary
		var begin, end int64
		if err := rows.Scan(&r.ID, &r.ReportID, &r.OrgName, &r.PolicyDomain, &begin, &end, &r.RecordCount, &r.MessageCount); err != nil {
			return nil, wrapErr("scan report", err)
		}
		r.DateBegin = time.Unix(begin, 0).UTC()
		r.DateEnd = time.Unix(end, 0).UTC()
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list reports", err)
	}
	return reports, nil
}

// DeleteReport removes a report. Records and auth results are removed by
// the foreign key cascade.
func (s *Store) DeleteReport(ctx context.Context, reportID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE report_id = ?", reportID)
	if err != nil {
		return wrapErr("delete report", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete report", err)
	}
	if n == 0 {
		return fmt.Errorf("report %q: %w", reportID, ErrNotFound)
	}
	return nil
}

// Counts returns the number of rows in the report tables.
func (s *Store) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"reports", &c.Reports},
		{"records", &c.Records},
		{"auth_results", &c.AuthResults},
	} {
		query := "SELECT COUNT(*) FROM " + q.table // nolint: gosec
		if err := s.db.QueryRowContext(ctx, query).Scan(q.dst); err != nil {
			return models.Counts{}, wrapErr("count "+strings.ReplaceAll(q.table, "_", " "), err)
		}
	}
	return c, nil
}
