package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ReportInput is a single test result as received from a node's /reports
// endpoint, prior to being persisted.
type ReportInput struct {
	TestName        string      `json:"test_name"`
	TestDescription string      `json:"test_description"`
	TimestampStart  string      `json:"timestamp_start"`
	TimestampEnd    string      `json:"timestamp_end"`
	ResultCode      int         `json:"result_code"`
	AdditionalInfo  interface{} `json:"additional_info,omitempty"`
}

// RecordExecution inserts an execution row for sessionID together with its
// reports inside a single transaction, mirroring routes.py's execute_tests
// (insert execution, bulk-insert reports, commit once).
func (s *Store) RecordExecution(ctx context.Context, sessionID int64, reports []ReportInput) (Execution, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Execution{}, fmt.Errorf("store: begin execution tx: %w", err)
	}
	defer tx.Rollback()

	ts := nowUTC()
	var execID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO execution (fk_session, timestamp_registered)
		VALUES ($1, $2)
		RETURNING id_execution`, sessionID, ts).Scan(&execID)
	if err != nil {
		return Execution{}, fmt.Errorf("store: insert execution: %w", err)
	}

	for _, r := range reports {
		var infoJSON *string
		if r.AdditionalInfo != nil {
			b, err := json.Marshal(r.AdditionalInfo)
			if err != nil {
				return Execution{}, fmt.Errorf("store: marshal additional_info: %w", err)
			}
			s := string(b)
			infoJSON = &s
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO report (
				fk_execution, test_name, test_description,
				timestamp_start, timestamp_end, result_code, additional_info
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			execID, r.TestName, r.TestDescription,
			r.TimestampStart, r.TimestampEnd, r.ResultCode, infoJSON)
		if err != nil {
			return Execution{}, fmt.Errorf("store: insert report: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Execution{}, fmt.Errorf("store: commit execution: %w", err)
	}

	return Execution{ID: execID, SessionID: sessionID, TimestampRegistered: ts}, nil
}

// ReportsForExecution returns every report tied to an execution, ordered by
// start timestamp, as routes.py's search_executions does for its nested
// "reports" array.
func (s *Store) ReportsForExecution(ctx context.Context, executionID int64) ([]Report, error) {
	out := []Report{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT fk_execution, test_name, test_description, result_code,
			additional_info, timestamp_start, timestamp_end
		FROM report
		WHERE fk_execution = $1
		ORDER BY timestamp_start`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	return out, nil
}

var executionSearchSpec = SearchSpec{
	Table:         "execution",
	SelectColumns: []string{"*"},
	OrderBy: OrderSpec{
		"id":         "id_execution",
		"session":    "fk_session",
		"registered": "timestamp_registered",
	},
	Filters: FilterSpec{
		"ids":              Filter("id_execution", "="),
		"sessions":         Filter("fk_session", "="),
		"registered_from":  Filter("timestamp_registered", ">="),
		"registered_to":    Filter("timestamp_registered", "<="),
	},
}

// SearchExecutions runs a parametrized search over the execution table. An
// empty params value set returns every execution, matching
// routes.py's "if not request.args" shortcut.
func (s *Store) SearchExecutions(ctx context.Context, params url.Values) ([]Execution, error) {
	var query string
	var args []interface{}
	var err error

	if len(params) == 0 {
		query = "SELECT * FROM execution"
	} else {
		query, args, err = BuildSearch(executionSearchSpec, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSearch, err)
		}
	}

	out := []Execution{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: search executions: %w", err)
	}
	return out, nil
}

var sessionSearchColumns = []string{
	"id_session", "session_start", "session_end", "env_ip", "env_port", "env_os_system",
}

var sessionSearchSpec = SearchSpec{
	Table:         "session",
	SelectColumns: sessionSearchColumns,
	OrderBy: OrderSpec{
		"id":     "id_session",
		"start":  "session_start",
		"end":    "session_end",
		"ip":     "env_ip",
		"port":   "env_port",
		"system": "env_os_system",
	},
	Filters: FilterSpec{
		"ids":        Filter("id_session", "="),
		"start_from": Filter("session_start", ">="),
		"start_to":   Filter("session_start", "<="),
		"end_from":   Filter("session_end", ">="),
		"end_to":     Filter("session_end", "<="),
		"ips":        Filter("env_ip", "="),
		"ports":      Filter("env_port", "="),
		"systems":    Filter("env_os_system", "="),
	},
}

// SessionSearchRow is the narrow projection search_sessions returns: the
// five session_summary columns plus the OS family, never the full platform
// record.
type SessionSearchRow struct {
	SessionID    int64          `db:"id_session"`
	SessionStart string         `db:"session_start"`
	SessionEnd   sql.NullString `db:"session_end"`
	IP           string         `db:"env_ip"`
	Port         int            `db:"env_port"`
	OSSystem     string         `db:"env_os_system"`
}

// SearchSessions runs a parametrized search over the session table,
// returning the same narrow projection regardless of whether any filters
// were supplied.
func (s *Store) SearchSessions(ctx context.Context, params url.Values) ([]SessionSearchRow, error) {
	var query string
	var args []interface{}
	var err error

	if len(params) == 0 {
		query = fmt.Sprintf("SELECT %s FROM session", joinColumns(sessionSearchColumns))
	} else {
		query, args, err = BuildSearch(sessionSearchSpec, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSearch, err)
		}
	}

	out := []SessionSearchRow{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("store: search sessions: %w", err)
	}
	return out, nil
}

func joinColumns(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

// ErrInvalidSearch wraps any rejected combination of search query
// parameters, mapped to HTTP 400 by the coordinator handlers.
var ErrInvalidSearch = errors.New("store: invalid search parameters")

// DeleteExecution removes an execution (and cascades its reports) by id.
func (s *Store) DeleteExecution(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution WHERE id_execution = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete execution rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
