// Package store persists images, runs, attempts, winners and saved outputs
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// RunMode is how a run's attempts were produced.
type RunMode string

// Run modes.
const (
	ModePreset RunMode = "preset"
	ModePrompt RunMode = "prompt"
)

// timeLayout matches SQLite's datetime('now').
const timeLayout = "2006-01-02 15:04:05"

// Image is an imported original.
type Image struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"originalPath"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Run is one request to render an image, by preset or by prompt.
type Run struct {
	ID         string    `json:"id"`
	ImageID    string    `json:"imageId"`
	Mode       RunMode   `json:"mode"`
	Provider   string    `json:"provider,omitempty"`
	PresetID   string    `json:"presetId,omitempty"`
	Intensity  *int64    `json:"intensity,omitempty"`
	UserPrompt string    `json:"userPrompt,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Attempt is one output of a run. Index starts at 1.
type Attempt struct {
	ID            string          `json:"id"`
	RunID         string          `json:"runId"`
	Index         int             `json:"index"`
	OutputPath    string          `json:"outputPath"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	RevisedPrompt string          `json:"revisedPrompt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Winner is the attempt picked as a run's favourite.
type Winner struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	AttemptID string    `json:"attemptId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SavedOutput is a copy of an attempt the user kept.
type SavedOutput struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attemptId"`
	SavedPath string    `json:"savedPath"`
	CreatedAt time.Time `json:"createdAt"`
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a SQLite database holding the photomaxx schema.
type Store struct {
	db  *sql.DB
	q   querier
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// dsn builds a file URI for path so that '?' and '#' in directory names
// are escaped rather than read as query or fragment.
func dsn(path string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(path),
		RawQuery: url.Values{
			"_pragma": {"busy_timeout(5000)", "foreign_keys(1)", "journal_mode(WAL)"},
		}.Encode(),
	}
	return u.String()
}

// New wraps an open database and ensures the schema exists.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := InitializeSchema(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, q: db, now: time.Now}, nil
}

// InTx runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// NewID returns a fresh row identifier.
func NewID() string { return uuid.NewString() }

func (s *Store) timestamp() (time.Time, string) {
	t := s.now().UTC().Truncate(time.Second)
	return t, t.Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertImage records an uploaded original. ID is generated when empty.
func (s *Store) InsertImage(ctx context.Context, img *Image) error {
	if img.ID == "" {
		img.ID = NewID()
	}
	var ts string
	img.CreatedAt, ts = s.timestamp()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO images (id, original_path, created_at) VALUES (?, ?, ?)",
		img.ID, img.OriginalPath, ts)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// GetImage returns the image with the given id or ErrNotFound.
func (s *Store) GetImage(ctx context.Context, id string) (*Image, error) {
	var img Image
	var created string
	err := s.q.QueryRowContext(ctx,
		"SELECT id, original_path, created_at FROM images WHERE id = ?", id).
		Scan(&img.ID, &img.OriginalPath, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	img.CreatedAt = parseTime(created)
	return &img, nil
}

// CreateRun records a run. ID is generated when empty.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	var ts string
	r.CreatedAt, ts = s.timestamp()
	var intensity sql.NullInt64
	if r.Intensity != nil {
		intensity = sql.NullInt64{Int64: *r.Intensity, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO runs (id, image_id, mode, provider, preset_id, intensity, user_prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ImageID, string(r.Mode), nullString(r.Provider), nullString(r.PresetID),
		intensity, nullString(r.UserPrompt), ts)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = "id, image_id, mode, provider, preset_id, intensity, user_prompt, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var mode, created string
	var provider, presetID, prompt sql.NullString
	var intensity sql.NullInt64
	if err := row.Scan(&r.ID, &r.ImageID, &mode, &provider, &presetID, &intensity, &prompt, &created); err != nil {
		return nil, err
	}
	r.Mode = RunMode(mode)
	r.Provider = provider.String
	r.PresetID = presetID.String
	r.UserPrompt = prompt.String
	if intensity.Valid {
		v := intensity.Int64
		r.Intensity = &v
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

// GetRun returns the run with the given id or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns an image's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, imageID string) ([]Run, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE image_id = ? ORDER BY created_at DESC, rowid DESC", imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// AddAttempt records one output of a run. meta is stored as JSON.
func (s *Store) AddAttempt(ctx context.Context, a *Attempt, meta any) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal attempt meta: %w", err)
		}
		a.Meta = raw
	}
	var ts string
	a.CreatedAt, ts = s.timestamp()
	var metaJSON sql.NullString
	if len(a.Meta) > 0 {
		metaJSON = sql.NullString{String: string(a.Meta), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attempts (id, run_id, "index", output_path, meta_json, revised_prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.Index, a.OutputPath, metaJSON, nullString(a.RevisedPrompt), ts)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

const attemptColumns = `id, run_id, "index", output_path, meta_json, revised_prompt, created_at`

func scanAttempt(row scanner) (*Attempt, error) {
	var a Attempt
	var created string
	var meta, revised sql.NullString
	if err := row.Scan(&a.ID, &a.RunID, &a.Index, &a.OutputPath, &meta, &revised, &created); err != nil {
		return nil, err
	}
	if meta.Valid {
		a.Meta = json.RawMessage(meta.String)
	}
	a.RevisedPrompt = revised.String
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// GetAttempt returns the attempt with the given id or ErrNotFound.
func (s *Store) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	a, err := scanAttempt(s.q.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAttempts returns a run's attempts ordered by index.
func (s *Store) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY "index"`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// SetWinner marks attemptID as the run's pick, replacing any earlier pick.
func (s *Store) SetWinner(ctx context.Context, runID, attemptID string) (*Winner, error) {
	w := &Winner{ID: NewID(), RunID: runID, AttemptID: attemptID}
	var ts string
	w.CreatedAt, ts = s.timestamp()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO winners (id, run_id, attempt_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET attempt_id = excluded.attempt_id, created_at = excluded.created_at`,
		w.ID, runID, attemptID, ts)
	if err != nil {
		return nil, fmt.Errorf("save winner: %w", err)
	}
	return s.GetWinner(ctx, runID)
}

// GetWinner returns the current pick for runID or ErrNotFound.
func (s *Store) GetWinner(ctx context.Context, runID string) (*Winner, error) {
	var w Winner
	var created string
	err := s.q.QueryRowContext(ctx,
		"SELECT id, run_id, attempt_id, created_at FROM winners WHERE run_id = ?", runID).
		Scan(&w.ID, &w.RunID, &w.AttemptID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("winner for run %s: %w", runID, ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	w.CreatedAt = parseTime(created)
	return &w, nil
}

// AddSavedOutput records a copy of an attempt kept by the user.
func (s *Store) AddSavedOutput(ctx context.Context, attemptID, savedPath string) (*SavedOutput, error) {
	so := &SavedOutput{ID: NewID(), AttemptID: attemptID, SavedPath: savedPath}
	var ts string
	so.CreatedAt, ts = s.timestamp()
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO saved_outputs (id, attempt_id, saved_path, created_at) VALUES (?, ?, ?, ?)",
		so.ID, attemptID, savedPath, ts)
	if err != nil {
		return nil, fmt.Errorf("insert saved output: %w", err)
	}
	return so, nil
}

// ListSavedOutputs returns the saved copies of an attempt, oldest first.
func (s *Store) ListSavedOutputs(ctx context.Context, attemptID string) ([]SavedOutput, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, attempt_id, saved_path, created_at FROM saved_outputs WHERE attempt_id = ? ORDER BY created_at, rowid",
		attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SavedOutput
	for rows.Next() {
		var so SavedOutput
		var created string
		if err := rows.Scan(&so.ID, &so.AttemptID, &so.SavedPath, &created); err != nil {
			return nil, err
		}
		so.CreatedAt = parseTime(created)
		out = append(out, so)
	}
	return out, rows.Err()
}
