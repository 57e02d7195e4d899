package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup by id or (ip, port) finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrSessionActive is returned when a caller tries to delete a session that
// has not ended yet (spec.md §8 boundary case: "Deleting a still-active
// session ⇒ 400").
var ErrSessionActive = errors.New("store: session still active")

// ActiveSessionID returns the id of the active session at (ip, port), if
// any. Grounded on routes.py's check_registered.
func (s *Store) ActiveSessionID(ctx context.Context, ip string, port int) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		SELECT id_session FROM session
		WHERE env_ip = $1 AND env_port = $2 AND session_end IS NULL`, ip, port)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: active session lookup: %w", err)
	}
	return id, nil
}

// EndActiveSession sets session_end on the active session at (ip, port), if
// one exists, and returns its id. Used both by explicit deregistration and
// by the implicit end-on-reregister path (spec.md §4.5.1).
func (s *Store) EndActiveSession(ctx context.Context, ip string, port int, endTS string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		SELECT id_session FROM session
		WHERE env_ip = $1 AND env_port = $2 AND session_end IS NULL`, ip, port)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: end session lookup: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE session SET session_end = $1 WHERE id_session = $2`, endTS, id)
	if err != nil {
		return 0, fmt.Errorf("store: end session: %w", err)
	}
	return id, nil
}

// CreateSession inserts a new session row and returns its generated id and
// start timestamp.
func (s *Store) CreateSession(ctx context.Context, ip string, port int, info PlatformInfo) (Session, error) {
	start := nowUTC()
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO session (
			session_start, env_ip, env_port, env_platform, env_node,
			env_os_system, env_os_release, env_os_version,
			env_hw_machine, env_hw_processor,
			env_rt_build_no, env_rt_build_date, env_rt_compiler,
			env_rt_implementation, env_rt_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id_session`,
		start, ip, port, info.Platform, info.Node,
		info.OSSystem, info.OSRelease, info.OSVersion,
		info.HWMachine, info.HWProcessor,
		info.RuntimeBuildNo, info.RuntimeBuildDate, info.RuntimeCompiler,
		info.RuntimeImpl, info.RuntimeVersion,
	).Scan(&id)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}

	return Session{
		ID:           id,
		Start:        start,
		IP:           ip,
		Port:         port,
		PlatformInfo: info,
	}, nil
}

// ActiveSessionSummary is the shape returned by GET /environments.
type ActiveSessionSummary struct {
	SessionID    int64  `json:"session_id" db:"id_session"`
	IP           string `json:"ip" db:"env_ip"`
	Port         int    `json:"port" db:"env_port"`
	SessionStart string `json:"session_start" db:"session_start"`
}

// ListActiveSessions returns every session currently without an end
// timestamp.
func (s *Store) ListActiveSessions(ctx context.Context) ([]ActiveSessionSummary, error) {
	out := []ActiveSessionSummary{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id_session, env_ip, env_port, session_start
		FROM session
		WHERE session_end IS NULL
		ORDER BY id_session`)
	if err != nil {
		return nil, fmt.Errorf("store: list active sessions: %w", err)
	}
	return out, nil
}

// GetPlatformInfo returns the platform info captured for the active session
// at (ip, port).
func (s *Store) GetPlatformInfo(ctx context.Context, ip string, port int) (PlatformInfo, error) {
	var info PlatformInfo
	err := s.db.GetContext(ctx, &info, `
		SELECT env_platform, env_node, env_os_system, env_os_release,
			env_os_version, env_hw_machine, env_hw_processor,
			env_rt_build_no, env_rt_build_date, env_rt_compiler,
			env_rt_implementation, env_rt_version
		FROM session
		WHERE env_ip = $1 AND env_port = $2 AND session_end IS NULL`, ip, port)
	if errors.Is(err, sql.ErrNoRows) {
		return PlatformInfo{}, ErrNotFound
	}
	if err != nil {
		return PlatformInfo{}, fmt.Errorf("store: get platform info: %w", err)
	}
	return info, nil
}

// GetSession returns the full session row by id.
func (s *Store) GetSession(ctx context.Context, id int64) (Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM session WHERE id_session = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session by id. The session must already be ended
// (spec.md §3/§8).
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	var end sql.NullString
	err := s.db.GetContext(ctx, &end, `SELECT session_end FROM session WHERE id_session = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: delete session lookup: %w", err)
	}
	if !end.Valid {
		return ErrSessionActive
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM session WHERE id_session = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// EndAllActiveSessions sets session_end on every currently active session,
// used at coordinator shutdown (spec.md §4.5.5). Returns the affected
// (ip, port) pairs so the caller can notify each node.
func (s *Store) EndAllActiveSessions(ctx context.Context, endTS string) ([]ActiveSessionSummary, error) {
	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return active, nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE session SET session_end = $1 WHERE session_end IS NULL`, endTS)
	if err != nil {
		return nil, fmt.Errorf("store: end all sessions: %w", err)
	}
	return active, nil
}
