package worker

import (
	"context"
	"fmt"

	"voicescribe/internal/document"
)

// RunStartupRecovery repairs jobs left inconsistent by a crash or a stale
// client overwrite. Call once at startup, before EnsureStarted.
//
// Two repairs run:
//   - stuck-running: jobs still marked running are requeued immediately;
//   - missing-marker: among the most recently updated done jobs, any whose
//     document no longer carries the idempotency marker is requeued, provided
//     the target node still exists. A missing node means the transcript has
//     nowhere to go, so the job stays done.
func (w *Worker) RunStartupRecovery(ctx context.Context) error {
	n, err := w.store.RequeueRunning()
	if err != nil {
		return fmt.Errorf("requeue running jobs: %w", err)
	}
	if n > 0 {
		w.log.Info("requeued jobs stuck in running", "count", n)
	}

	done, err := w.store.RecentDone(w.cfg.RecoveryScanLimit)
	if err != nil {
		return fmt.Errorf("list recent done jobs: %w", err)
	}
	for _, job := range done {
		if err := ctx.Err(); err != nil {
			return err
		}
		art, _, err := w.docs.Get(ctx, job.DocumentID, job.UserID)
		if err != nil {
			// Unreachable or deleted document: nothing to verify against.
			w.log.Warn("marker check skipped, document unavailable",
				"job_id", job.ID, "document_id", job.DocumentID, "err", err)
			continue
		}
		node := document.FindNode(art.Nodes, job.NodeID)
		if node == nil {
			// Node gone: the job's effect is moot, requeueing would orphan it.
			continue
		}
		if document.HasMarker(node, job.AttachmentID) {
			continue
		}
		w.log.Info("transcript marker lost, requeueing job",
			"job_id", job.ID, "attachment_id", job.AttachmentID)
		if err := w.store.Requeue(job.ID); err != nil {
			w.log.Error("requeue for lost marker failed", "job_id", job.ID, "err", err)
		}
	}
	return nil
}
