package jobs

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a transcript job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusOrphaned Status = "orphaned"
)

// ErrNoJob is returned by ClaimNext when no queued job is currently due.
var ErrNoJob = errors.New("no job available")

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidRequest is returned by Enqueue when required fields are missing.
var ErrInvalidRequest = errors.New("enqueue request is missing required fields")

// Job describes one voice attachment to transcribe and merge into a document.
// At most one job ever exists per attachment id.
type Job struct {
	ID            string    // UUIDv4
	UserID        string    // owner of the document
	DocumentID    string    // document holding the target node
	NodeID        string    // outline node the transcript attaches to
	AttachmentID  string    // attachment identity, unique across jobs
	StoredRef     string    // storage reference resolvable by the attachment source
	DisplayName   string    // original attachment file name
	Status        Status    // current lifecycle state
	Attempts      int       // number of worker claims so far
	LastError     string    // last failure message, empty when none
	NextAttemptAt time.Time // earliest time the worker may claim the job
	RawText       string    // merged raw transcript, set on done
	CleanText     string    // cleaned transcript, set on done
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EnqueueRequest carries the fields needed to create a job.
type EnqueueRequest struct {
	UserID       string
	DocumentID   string
	NodeID       string
	AttachmentID string
	StoredRef    string
	DisplayName  string
}

// Store defines persistence for transcript jobs and their state transitions.
// Every transition is a single atomic write scoped to one job row, so the
// startup recovery routines stay safe next to an active worker.
type Store interface {
	// Enqueue creates a queued job, or returns the existing one for the same
	// attachment id. The boolean reports whether a new row was created.
	Enqueue(req EnqueueRequest) (*Job, bool, error)
	// ClaimNext atomically claims the oldest queued job whose next-attempt
	// time has passed, transitions it to running and increments its attempt
	// counter. Returns ErrNoJob when nothing is due.
	ClaimNext(now time.Time) (*Job, error)
	// Complete marks the job done with both transcript texts and clears the error.
	Complete(id, rawText, cleanText string) error
	// Retry puts the job back in the queue with a recorded error and backoff delay.
	Retry(id, message string, delay time.Duration) error
	// Orphan terminally parks the job; it is never claimed again.
	Orphan(id, message string) error
	// GetJob fetches one job by id.
	GetJob(id string) (*Job, error)
	// RequeueRunning resets every running job to queued with an immediate
	// next-attempt time. Run at startup to repair crash leftovers.
	RequeueRunning() (int, error)
	// RecentDone lists the most recently updated done jobs, newest first.
	RecentDone(limit int) ([]*Job, error)
	// Requeue puts a done job back in the queue (lost-result repair).
	Requeue(id string) error
	Close() error
}
