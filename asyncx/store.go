package asyncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store abstracts persistence for task lifecycle records.
// Implementations must be safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, rec TaskRecord) error
	Delete(ctx context.Context, taskID string) error
	MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, taskID string, result string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, taskID string) (*TaskRecord, error)
}

// Dialect selects the placeholder style used by SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Schema creates the task table. It is valid for both SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS helpdesk_tasks (
    id          VARCHAR(64)  PRIMARY KEY,
    job         VARCHAR(255) NOT NULL,
    queue       VARCHAR(64)  NOT NULL,
    args_json   TEXT         NOT NULL,
    status      VARCHAR(32)  NOT NULL,
    result      TEXT         NULL,
    created_at  TIMESTAMP    NOT NULL,
    started_at  TIMESTAMP    NULL,
    finished_at TIMESTAMP    NULL
);
`

// SQLStore is a reference implementation backed by a relational DB (SQLite/Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate applies Schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Insert(ctx context.Context, rec TaskRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = StatusPending
	}
	q := s.rebind(`INSERT INTO helpdesk_tasks (id, job, queue, args_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, rec.ID, rec.Job, rec.Queue, string(args), string(status), rec.CreatedAt.UTC())
	return err
}

func (s *SQLStore) Delete(ctx context.Context, taskID string) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM helpdesk_tasks WHERE id = ?`), taskID)
	return err
}

func (s *SQLStore) MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := s.rebind(`UPDATE helpdesk_tasks SET status = ?, started_at = ?
		WHERE id = ? AND status IN (?, ?)`)
	res, err := s.db.ExecContext(ctx, q, string(StatusRunning), startedAt.UTC(), taskID,
		string(StatusPending), string(StatusRunning))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, taskID)
}

func (s *SQLStore) MarkCompleted(ctx context.Context, taskID string, result string, finishedAt time.Time) error {
	return s.finish(ctx, taskID, StatusSuccess, result, finishedAt)
}

func (s *SQLStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	return s.finish(ctx, taskID, StatusFailure, errorMsg, finishedAt)
}

func (s *SQLStore) finish(ctx context.Context, taskID string, status Status, result string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := s.rebind(`UPDATE helpdesk_tasks SET status = ?, result = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`)
	res, err := s.db.ExecContext(ctx, q, string(status), result, finishedAt.UTC(), taskID,
		string(StatusPending), string(StatusRunning))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, taskID)
}

// checkTransition tells a refused transition on a terminal task apart from a missing one.
func (s *SQLStore) checkTransition(ctx context.Context, res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, taskID); err != nil {
		return err
	}
	return ErrAlreadyFinished
}

func (s *SQLStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := s.rebind(`SELECT id, job, queue, args_json, status, result, created_at, started_at, finished_at
		FROM helpdesk_tasks WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, q, taskID)
	rec := TaskRecord{}
	var status, argsJSON string
	var result sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Job, &rec.Queue, &argsJSON, &status, &result, &rec.CreatedAt, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownTask
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return nil, fmt.Errorf("decode args of task %s: %w", taskID, err)
	}
	rec.Status = Status(status)
	if result.Valid {
		v := result.String
		rec.Result = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// PurgeFinishedBefore deletes terminal records finished before cutoff and
// returns how many were removed. Purged ids become unknown to pollers.
func (s *SQLStore) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("nil db")
	}
	q := s.rebind(`DELETE FROM helpdesk_tasks WHERE status IN (?, ?) AND finished_at < ?`)
	res, err := s.db.ExecContext(ctx, q, string(StatusSuccess), string(StatusFailure), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
