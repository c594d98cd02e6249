package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voicescribe/internal/common"
)

// sortableTime is RFC3339 with a fixed-width fractional second so TEXT
// comparisons in SQL order the same way the timestamps do.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		attachment_id TEXT NOT NULL UNIQUE,
		stored_ref TEXT NOT NULL,
		display_name TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		next_attempt_at TEXT NOT NULL,
		raw_text TEXT NOT NULL DEFAULT '',
		clean_text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_jobs_claim
		ON transcript_jobs (status, next_attempt_at, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sortableTime, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Enqueue inserts a queued job for the attachment, or returns the job that
// already owns the attachment id.
func (s *SQLiteStore) Enqueue(req EnqueueRequest) (*Job, bool, error) {
	if req.UserID == "" || req.DocumentID == "" || req.NodeID == "" || req.AttachmentID == "" || req.StoredRef == "" {
		return nil, false, ErrInvalidRequest
	}
	if existing, err := s.getByAttachment(req.AttachmentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrJobNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		DocumentID:    req.DocumentID,
		NodeID:        req.NodeID,
		AttachmentID:  req.AttachmentID,
		StoredRef:     req.StoredRef,
		DisplayName:   req.DisplayName,
		Status:        StatusQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.Exec(
		`INSERT INTO transcript_jobs
		 (id, user_id, document_id, node_id, attachment_id, stored_ref, display_name,
		  status, attempts, last_error, next_attempt_at, raw_text, clean_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, '', '', ?, ?)`,
		job.ID, job.UserID, job.DocumentID, job.NodeID, job.AttachmentID, job.StoredRef, job.DisplayName,
		string(job.Status), fmtTime(job.NextAttemptAt), fmtTime(job.CreatedAt), fmtTime(job.UpdatedAt),
	)
	if err != nil {
		// Lost a create race on the unique attachment id: reuse the winner.
		if strings.Contains(err.Error(), "UNIQUE") {
			existing, gerr := s.getByAttachment(req.AttachmentID)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	return job, true, nil
}

// ClaimNext selects the oldest due queued job and flips it to running with a
// compare-and-set on status, so a concurrent claimant can never win the same row.
func (s *SQLiteStore) ClaimNext(now time.Time) (*Job, error) {
	for {
		var id string
		err := s.db.QueryRow(
			`SELECT id FROM transcript_jobs
			 WHERE status = ? AND next_attempt_at <= ?
			 ORDER BY created_at ASC LIMIT 1`,
			string(StatusQueued), fmtTime(now),
		).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoJob
			}
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.db.Exec(
			`UPDATE transcript_jobs
			 SET status = ?, attempts = attempts + 1, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusRunning), fmtTime(now), id, string(StatusQueued),
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim job rows: %w", err)
		}
		if n == 0 {
			// Someone else claimed it between select and update; try the next one.
			continue
		}
		return s.GetJob(id)
	}
}

// Complete marks the job done with its results.
func (s *SQLiteStore) Complete(id, rawText, cleanText string) error {
	return s.exec(
		`UPDATE transcript_jobs
		 SET status = ?, raw_text = ?, clean_text = ?, last_error = '', updated_at = ?
		 WHERE id = ?`,
		string(StatusDone), rawText, cleanText, fmtTime(time.Now()), id,
	)
}

// Retry requeues the job with a recorded error and a backoff delay.
func (s *SQLiteStore) Retry(id, message string, delay time.Duration) error {
	now := time.Now().UTC()
	return s.exec(
		`UPDATE transcript_jobs
		 SET status = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(StatusQueued), message, fmtTime(now.Add(delay)), fmtTime(now), id,
	)
}

// Orphan terminally parks the job.
func (s *SQLiteStore) Orphan(id, message string) error {
	return s.exec(
		`UPDATE transcript_jobs
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(StatusOrphaned), message, fmtTime(time.Now()), id,
	)
}

// Requeue puts a job back in the queue with an immediate next-attempt time.
func (s *SQLiteStore) Requeue(id string) error {
	now := time.Now().UTC()
	return s.exec(
		`UPDATE transcript_jobs
		 SET status = ?, last_error = '', next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(StatusQueued), fmtTime(now), fmtTime(now), id,
	)
}

// RequeueRunning resets crash leftovers; every running job becomes claimable again.
func (s *SQLiteStore) RequeueRunning() (int, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE transcript_jobs
		 SET status = ?, last_error = '', next_attempt_at = ?, updated_at = ?
		 WHERE status = ?`,
		string(StatusQueued), fmtTime(now), fmtTime(now), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue running rows: %w", err)
	}
	return int(n), nil
}

// RecentDone lists the most recently updated done jobs, newest first.
func (s *SQLiteStore) RecentDone(limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		selectColumns+` WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
		string(StatusDone), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent done: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, user_id, document_id, node_id, attachment_id, stored_ref, display_name,
	status, attempts, last_error, next_attempt_at, raw_text, clean_text, created_at, updated_at
	FROM transcript_jobs`

// GetJob fetches one job by id.
func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) getByAttachment(attachmentID string) (*Job, error) {
	job, err := scanJob(s.db.QueryRow(selectColumns+` WHERE attachment_id = ?`, attachmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: attachment %s", ErrJobNotFound, attachmentID)
		}
		return nil, err
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status, nextAttempt, created, updated string
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.DocumentID,
		&job.NodeID,
		&job.AttachmentID,
		&job.StoredRef,
		&job.DisplayName,
		&status,
		&job.Attempts,
		&job.LastError,
		&nextAttempt,
		&job.RawText,
		&job.CleanText,
		&created,
		&updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = Status(status)
	job.NextAttemptAt = parseTime(nextAttempt)
	job.CreatedAt = parseTime(created)
	job.UpdatedAt = parseTime(updated)
	return &job, nil
}

func (s *SQLiteStore) exec(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
