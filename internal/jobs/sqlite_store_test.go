package jobs

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRequest(attachmentID string) EnqueueRequest {
	return EnqueueRequest{
		UserID:       "user-1",
		DocumentID:   "doc-1",
		NodeID:       "node-1",
		AttachmentID: attachmentID,
		StoredRef:    "ref-" + attachmentID,
		DisplayName:  attachmentID + ".ogg",
	}
}

func TestEnqueue_OneJobPerAttachment(t *testing.T) {
	store := newTestStore(t)

	first, created, err := store.Enqueue(testRequest("att-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !created {
		t.Fatalf("first enqueue should create")
	}
	if first.Status != StatusQueued || first.Attempts != 0 {
		t.Fatalf("new job state: %+v", first)
	}

	second, created, err := store.Enqueue(testRequest("att-1"))
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if created {
		t.Fatalf("second enqueue must not create a new row")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same job id, got %s and %s", first.ID, second.ID)
	}
}

func TestEnqueue_RequiredFields(t *testing.T) {
	store := newTestStore(t)
	req := testRequest("att-1")
	req.NodeID = ""
	if _, _, err := store.Enqueue(req); err == nil {
		t.Fatalf("expected error for missing node id")
	}
}

func TestClaimNext_OrderAndDueTime(t *testing.T) {
	store := newTestStore(t)

	older, _, err := store.Enqueue(testRequest("att-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	newer, _, err := store.Enqueue(testRequest("att-2"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Push the newer job into the future; it must not be claimable yet.
	if err := store.Retry(newer.ID, "later", time.Hour); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	claimed, err := store.ClaimNext(time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != older.ID {
		t.Fatalf("claimed %s, want oldest due %s", claimed.ID, older.ID)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed state: %+v", claimed)
	}

	if _, err := store.ClaimNext(time.Now()); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}

	// Once the backoff has elapsed the deferred job becomes claimable.
	future := time.Now().Add(2 * time.Hour)
	claimed2, err := store.ClaimNext(future)
	if err != nil {
		t.Fatalf("ClaimNext future: %v", err)
	}
	if claimed2.ID != newer.ID {
		t.Fatalf("claimed %s, want %s", claimed2.ID, newer.ID)
	}
}

func TestClaimNext_Exclusive(t *testing.T) {
	store := newTestStore(t)
	for _, att := range []string{"att-1", "att-2", "att-3"} {
		if _, _, err := store.Enqueue(testRequest(att)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(time.Now())
				if errors.Is(err, ErrNoJob) {
					return
				}
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 3 {
		t.Fatalf("claimed %d distinct jobs, want 3", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestCompleteRetryOrphanTransitions(t *testing.T) {
	store := newTestStore(t)
	job, _, err := store.Enqueue(testRequest("att-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := store.Retry(job.ID, "fetch failed", time.Minute); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusQueued || got.LastError != "fetch failed" {
		t.Fatalf("after retry: %+v", got)
	}
	if !got.NextAttemptAt.After(time.Now().Add(30 * time.Second)) {
		t.Fatalf("backoff not applied: %v", got.NextAttemptAt)
	}

	if err := store.Complete(job.ID, "raw text", "clean text"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ = store.GetJob(job.ID)
	if got.Status != StatusDone || got.RawText != "raw text" || got.CleanText != "clean text" || got.LastError != "" {
		t.Fatalf("after complete: %+v", got)
	}

	if err := store.Orphan(job.ID, "node gone"); err != nil {
		t.Fatalf("Orphan: %v", err)
	}
	got, _ = store.GetJob(job.ID)
	if got.Status != StatusOrphaned || got.LastError != "node gone" {
		t.Fatalf("after orphan: %+v", got)
	}

	// Orphaned jobs are never claimable, even far in the future.
	if _, err := store.ClaimNext(time.Now().Add(24 * time.Hour)); !errors.Is(err, ErrNoJob) {
		t.Fatalf("orphaned job was claimed: %v", err)
	}

	if err := store.Complete("no-such-id", "x", "y"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRequeueRunning_RepairsCrashLeftovers(t *testing.T) {
	store := newTestStore(t)
	job, _, err := store.Enqueue(testRequest("att-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.ClaimNext(time.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	n, err := store.RequeueRunning()
	if err != nil {
		t.Fatalf("RequeueRunning: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}
	got, _ := store.GetJob(job.ID)
	if got.Status != StatusQueued || got.LastError != "" {
		t.Fatalf("after repair: %+v", got)
	}
	if got.NextAttemptAt.After(time.Now()) {
		t.Fatalf("next attempt should be immediate, got %v", got.NextAttemptAt)
	}
}

func TestRecentDone_NewestFirstBounded(t *testing.T) {
	store := newTestStore(t)
	var ids []string
	for _, att := range []string{"att-1", "att-2", "att-3"} {
		job, _, err := store.Enqueue(testRequest(att))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if err := store.Complete(job.ID, "raw", "clean"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	done, err := store.RecentDone(2)
	if err != nil {
		t.Fatalf("RecentDone: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("got %d jobs, want 2", len(done))
	}
	if done[0].ID != ids[2] || done[1].ID != ids[1] {
		t.Fatalf("order mismatch: got %s,%s want %s,%s", done[0].ID, done[1].ID, ids[2], ids[1])
	}
}
