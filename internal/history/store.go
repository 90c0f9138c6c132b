// Package history keeps finished sessions in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rbright/parley/internal/transcript"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Record is one finished session.
type Record struct {
	ID           string            `json:"id"`
	UserName     string            `json:"user_name"`
	Issue        string            `json:"issue"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at"`
	Outcome      string            `json:"outcome"`
	OverallScore *float64          `json:"overall_score,omitempty"`
	SkillLevel   string            `json:"skill_level,omitempty"`
	Evaluation   json.RawMessage   `json:"evaluation,omitempty"`
	Transcript   []transcript.Turn `json:"transcript"`
}

// Store is a sqlite-backed session history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL DEFAULT '',
			issue TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			overall_score REAL,
			skill_level TEXT NOT NULL DEFAULT '',
			evaluation TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '[]'
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces rec.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("session id is required")
	}
	turns := rec.Transcript
	if turns == nil {
		turns = []transcript.Turn{}
	}
	transcriptJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	var score sql.NullFloat64
	if rec.OverallScore != nil {
		score = sql.NullFloat64{Float64: *rec.OverallScore, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_name, issue, started_at, ended_at, outcome, overall_score, skill_level, evaluation, transcript)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_name = excluded.user_name,
			issue = excluded.issue,
			ended_at = excluded.ended_at,
			outcome = excluded.outcome,
			overall_score = excluded.overall_score,
			skill_level = excluded.skill_level,
			evaluation = excluded.evaluation,
			transcript = excluded.transcript`,
		rec.ID,
		rec.UserName,
		rec.Issue,
		formatTime(rec.StartedAt),
		formatTime(rec.EndedAt),
		rec.Outcome,
		score,
		rec.SkillLevel,
		string(rec.Evaluation),
		string(transcriptJSON),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one session.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, user_name, issue, started_at, ended_at, outcome, overall_score, skill_level, evaluation, transcript FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                  Record
		startedAt, endedAt   string
		score                sql.NullFloat64
		evaluation, turnsRaw string
	)
	if err := row.Scan(&rec.ID, &rec.UserName, &rec.Issue, &startedAt, &endedAt, &rec.Outcome, &score, &rec.SkillLevel, &evaluation, &turnsRaw); err != nil {
		return Record{}, err
	}

	var err error
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return Record{}, err
	}
	if rec.EndedAt, err = parseTime(endedAt); err != nil {
		return Record{}, err
	}
	if score.Valid {
		v := score.Float64
		rec.OverallScore = &v
	}
	if evaluation != "" {
		rec.Evaluation = json.RawMessage(evaluation)
	}
	if err := json.Unmarshal([]byte(turnsRaw), &rec.Transcript); err != nil {
		return Record{}, fmt.Errorf("decode transcript for %s: %w", rec.ID, err)
	}
	return rec, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
