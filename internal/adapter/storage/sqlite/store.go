package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/port"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
				"PRAGMA cache_size = -8000",    // 8MB
				"PRAGMA mmap_size = 268435456", // 256MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

// NewStore opens waveshift.db under dataDir and brings its schema up to date.
func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "waveshift.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (int64, error) {
	return goose.GetDBVersion(s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const taskColumns = `id, owner_id, status, progress, file_name, object_key, file_size, mime_type,
	target_language, style, synthesize, upload_id, uploaded_path, job_handle, pipeline_status,
	audio_path, video_path, transcript_id, segment_count, synthesized_path,
	error_message, error_detail, created_at, updated_at, started_at, completed_at`

func (s *Store) Create(ctx context.Context, t *domain.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskArgs(t)...,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.Conflictf("task %s already exists", t.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("task %s not found", id)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *Store) ListStale(ctx context.Context, statuses []domain.TaskStatus, updatedBefore time.Time) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, formatTime(updatedBefore))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (`+placeholders+`) AND updated_at < ? ORDER BY updated_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	return collectTasks(rows)
}

// Update runs fn inside a transaction and guards the write with the expected
// status, so two writers racing on the same edge cannot both succeed.
func (s *Store) Update(ctx context.Context, id string, expected domain.TaskStatus, fn func(t *domain.Task) error) (*domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("task %s not found", id)
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	if t.Status != expected {
		return nil, domain.Conflictf("task %s is %s, expected %s", id, t.Status, expected)
	}

	if err := fn(t); err != nil {
		return nil, err
	}

	args := taskArgs(t)[1:]
	args = append(args, id, string(expected))
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
		owner_id = ?, status = ?, progress = ?, file_name = ?, object_key = ?, file_size = ?, mime_type = ?,
		target_language = ?, style = ?, synthesize = ?, upload_id = ?, uploaded_path = ?, job_handle = ?, pipeline_status = ?,
		audio_path = ?, video_path = ?, transcript_id = ?, segment_count = ?, synthesized_path = ?,
		error_message = ?, error_detail = ?, created_at = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return nil, domain.Conflictf("task %s changed concurrently", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task update: %w", err)
	}
	return t, nil
}

func taskArgs(t *domain.Task) []any {
	var errMsg, errDetail sql.NullString
	if t.Error != nil {
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
		errDetail = sql.NullString{String: t.Error.Detail, Valid: true}
	}
	return []any{
		t.ID, t.OwnerID, string(t.Status), t.Progress,
		t.Input.FileName, t.Input.ObjectKey, t.Input.FileSize, t.Input.MimeType,
		t.Options.TargetLanguage, t.Options.Style, t.Options.Synthesize,
		t.UploadID, t.UploadedPath, t.JobHandle, t.PipelineStatus,
		t.Outputs.AudioPath, t.Outputs.VideoPath, t.Outputs.TranscriptID, t.Outputs.SegmentCount, t.Outputs.SynthesizedPath,
		errMsg, errDetail,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		nullTime(t.StartedAt), nullTime(t.CompletedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                      domain.Task
		status                 string
		errMsg, errDetail      sql.NullString
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &status, &t.Progress,
		&t.Input.FileName, &t.Input.ObjectKey, &t.Input.FileSize, &t.Input.MimeType,
		&t.Options.TargetLanguage, &t.Options.Style, &t.Options.Synthesize,
		&t.UploadID, &t.UploadedPath, &t.JobHandle, &t.PipelineStatus,
		&t.Outputs.AudioPath, &t.Outputs.VideoPath, &t.Outputs.TranscriptID, &t.Outputs.SegmentCount, &t.Outputs.SynthesizedPath,
		&errMsg, &errDetail,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	if errMsg.Valid {
		t.Error = &domain.TaskError{Message: errMsg.String, Detail: errDetail.String}
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var (
	_ port.TaskStore       = (*Store)(nil)
	_ port.TranscriptStore = (*Store)(nil)
)
