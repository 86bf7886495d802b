package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrBadTransition is returned by UpdateStatus when the step is not legal.
var ErrBadTransition = errors.New("session: illegal status transition")

// Store persists sessions, templates, candidates and lineage in a local
// SQLite file. One store per process; the driver serializes writers.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	file_hash   TEXT NOT NULL,
	status      TEXT NOT NULL,
	target_table TEXT NOT NULL DEFAULT '',
	mapping     TEXT NOT NULL DEFAULT '',
	validation  TEXT NOT NULL DEFAULT '',
	progress    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS session_notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	note       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS templates (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	target_table      TEXT NOT NULL,
	filename_patterns TEXT NOT NULL DEFAULT '[]',
	fields            TEXT NOT NULL DEFAULT '[]',
	mapping           TEXT NOT NULL DEFAULT '{}',
	proposals         TEXT NOT NULL DEFAULT '[]',
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS candidates (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	value      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	UNIQUE (session_id, table_name, value)
);
CREATE TABLE IF NOT EXISTS lineage (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL,
	source_row       INTEGER NOT NULL,
	target_table     TEXT NOT NULL,
	target_record_id TEXT NOT NULL DEFAULT '',
	action           TEXT NOT NULL,
	skip_reason      TEXT NOT NULL DEFAULT '',
	original_data    TEXT NOT NULL DEFAULT '',
	transformed_data TEXT NOT NULL DEFAULT '',
	rolled_back_by   TEXT NOT NULL DEFAULT '',
	rolled_back_at   TIMESTAMP,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lineage_session ON lineage (session_id);
CREATE INDEX IF NOT EXISTS idx_candidates_session ON candidates (session_id);
`

// OpenStore opens (and if needed initializes) the state database at path.
// Use ":memory:" for an ephemeral store.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create registers a new session in file_uploaded and returns it.
func (s *Store) Create(ctx context.Context, filename, fileHash string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Filename:  filename,
		FileHash:  fileHash,
		Status:    StatusFileUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, filename, file_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Filename, sess.FileHash, sess.Status, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get loads one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_hash, status, target_table, mapping,
		       validation, progress, error, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Filename, &sess.FileHash, &sess.Status,
		&sess.TargetTable, &sess.Mapping, &sess.Validation, &sess.Progress,
		&sess.Error, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &sess, nil
}

// FindByHash returns the most recent session with the same file hash, or
// nil. Used to flag re-uploads.
func (s *Store) FindByHash(ctx context.Context, fileHash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM sessions WHERE file_hash = ?
		ORDER BY created_at DESC LIMIT 1`, fileHash)
	var id string
	if err := row.Scan(&id); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("session: find by hash: %w", err)
	}
	return s.Get(ctx, id)
}

// UpdateStatus moves a session through the state machine, refusing illegal
// steps. The check and the write happen in one transaction.
func (s *Store) UpdateStatus(ctx context.Context, id, to string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: update status: %w", err)
	}
	defer tx.Rollback()

	var from string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("session: update status: %w", err)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		to, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("session: update status: %w", err)
	}
	return tx.Commit()
}

// SetProgress records import progress (0..100).
func (s *Store) SetProgress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET progress = ?, updated_at = ? WHERE id = ?`,
		pct, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("session: set progress: %w", err)
	}
	return nil
}

// SetError stores a failure message without touching the status; the caller
// pairs it with UpdateStatus(StatusFailed).
func (s *Store) SetError(ctx context.Context, id, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("session: set error: %w", err)
	}
	return nil
}

// SaveMapping stores the mapping document and target table.
func (s *Store) SaveMapping(ctx context.Context, id, targetTable, mappingJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET target_table = ?, mapping = ?, updated_at = ? WHERE id = ?`,
		targetTable, mappingJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("session: save mapping: %w", err)
	}
	return nil
}

// SaveValidation stores the serialized validation report.
func (s *Store) SaveValidation(ctx context.Context, id, reportJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET validation = ?, updated_at = ? WHERE id = ?`,
		reportJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("session: save validation: %w", err)
	}
	return nil
}

// AddNote appends an audit note.
func (s *Store) AddNote(ctx context.Context, id, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_notes (session_id, note, created_at) VALUES (?, ?, ?)`,
		id, note, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("session: add note: %w", err)
	}
	return nil
}

// Notes lists a session's audit notes, oldest first.
func (s *Store) Notes(ctx context.Context, id string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, note, created_at FROM session_notes
		WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("session: notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ---- templates ----

// SaveTemplate stores or replaces a mapping template. JSON columns carry
// the pattern list, field list, header-to-column mapping and any staged
// schema-change proposals. Re-saving an id bumps its version.
func (s *Store) SaveTemplate(ctx context.Context, id, name, targetTable, patternsJSON, fieldsJSON, mappingJSON, proposalsJSON string) error {
	if proposalsJSON == "" {
		proposalsJSON = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, target_table, filename_patterns, fields, mapping, proposals, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			target_table = excluded.target_table,
			filename_patterns = excluded.filename_patterns,
			fields = excluded.fields,
			mapping = excluded.mapping,
			proposals = excluded.proposals,
			version = templates.version + 1`,
		id, name, targetTable, patternsJSON, fieldsJSON, mappingJSON, proposalsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("session: save template: %w", err)
	}
	return nil
}

// StoredTemplate is the raw template row; the analyzer decodes the JSON
// columns into its own Template type.
type StoredTemplate struct {
	ID               string
	Name             string
	TargetTable      string
	FilenamePatterns string // JSON array
	Fields           string // JSON array
	Mapping          string // JSON object
	Proposals        string // JSON array of schema-change proposals
	Version          int
}

// Templates lists all stored templates.
func (s *Store) Templates(ctx context.Context) ([]StoredTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, target_table, filename_patterns, fields, mapping, proposals, version
		FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("session: templates: %w", err)
	}
	defer rows.Close()

	var out []StoredTemplate
	for rows.Next() {
		var t StoredTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.TargetTable, &t.FilenamePatterns,
			&t.Fields, &t.Mapping, &t.Proposals, &t.Version); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- master-data candidates ----

// AddCandidate queues one value for approval. Returns false when the value
// is already queued for this session and table.
func (s *Store) AddCandidate(ctx context.Context, sessionID, table, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (session_id, table_name, value, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, table_name, value) DO NOTHING`,
		sessionID, table, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("session: add candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Candidates lists a session's candidates, optionally filtered by status.
func (s *Store) Candidates(ctx context.Context, sessionID, status string) ([]Candidate, error) {
	q := `SELECT id, session_id, table_name, value, status, created_at
	      FROM candidates WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session: candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Table, &c.Value, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveCandidate marks one candidate approved or rejected.
func (s *Store) ResolveCandidate(ctx context.Context, id int64, status string) error {
	if status != "approved" && status != "rejected" {
		return fmt.Errorf("session: invalid candidate status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidates SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("session: resolve candidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: candidate %d", ErrNotFound, id)
	}
	return nil
}

// ---- lineage ----

// AppendLineage records a batch of row outcomes.
func (s *Store) AppendLineage(ctx context.Context, rows []LineageRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: append lineage: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lineage (session_id, source_row, target_table, target_record_id,
		                     action, skip_reason, original_data, transformed_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("session: append lineage: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.SessionID, r.SourceRow, r.TargetTable,
			r.TargetRecordID, r.Action, r.SkipReason, r.OriginalData, r.TransformedData, now); err != nil {
			return fmt.Errorf("session: append lineage: %w", err)
		}
	}
	return tx.Commit()
}

// Lineage returns a session's lineage, grouped for the rollback executor:
// per target table, the record ids of inserted rows in insertion order.
func (s *Store) Lineage(ctx context.Context, sessionID string) ([]LineageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, source_row, target_table, target_record_id,
		       action, skip_reason, original_data, transformed_data,
		       rolled_back_by, rolled_back_at, created_at
		FROM lineage WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: lineage: %w", err)
	}
	defer rows.Close()

	var out []LineageRow
	for rows.Next() {
		var (
			r  LineageRow
			at sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SourceRow, &r.TargetTable,
			&r.TargetRecordID, &r.Action, &r.SkipReason, &r.OriginalData,
			&r.TransformedData, &r.RolledBackBy, &at, &r.CreatedAt); err != nil {
			return nil, err
		}
		if at.Valid {
			t := at.Time
			r.RolledBackAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkLineageRolledBack stamps every lineage row of the session with the
// rollback actor and time.
func (s *Store) MarkLineageRolledBack(ctx context.Context, sessionID, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lineage SET rolled_back_by = ?, rolled_back_at = ?
		WHERE session_id = ? AND rolled_back_at IS NULL`,
		actor, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("session: mark lineage rolled back: %w", err)
	}
	return nil
}

// InsertedIDs extracts, per table, the record ids lineage says were
// inserted. Tables come back in first-seen order so rollback can delete in
// reverse.
func InsertedIDs(rows []LineageRow) (tables []string, byTable map[string][]string) {
	byTable = map[string][]string{}
	for _, r := range rows {
		if r.Action != ActionInserted || r.TargetRecordID == "" {
			continue
		}
		if _, ok := byTable[r.TargetTable]; !ok {
			tables = append(tables, r.TargetTable)
		}
		byTable[r.TargetTable] = append(byTable[r.TargetTable], r.TargetRecordID)
	}
	return tables, byTable
}

// JoinRecordID renders a (possibly composite) key tuple as the stored
// record id.
func JoinRecordID(parts []string) string { return strings.Join(parts, "|") }

// SplitRecordID undoes JoinRecordID.
func SplitRecordID(id string) []string { return strings.Split(id, "|") }
