// Package worker runs the background transcript pipeline: claim a job,
// download and normalize its audio, transcribe chunk by chunk, merge, clean
// up, and patch the result into the owning document.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"voicescribe/internal/asr"
	"voicescribe/internal/attach"
	"voicescribe/internal/audio"
	"voicescribe/internal/cleanup"
	"voicescribe/internal/document"
	"voicescribe/internal/jobs"
	"voicescribe/internal/metrics"
	"voicescribe/internal/transcript"
)

// Config controls worker pacing and retry behavior.
type Config struct {
	PollInterval      time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DefaultBackoff    time.Duration
	MergeWindow       int
	RecoveryScanLimit int
	ASRPrompt         string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Hour
	}
	if c.DefaultBackoff <= 0 {
		c.DefaultBackoff = time.Minute
	}
	if c.MergeWindow <= 0 {
		c.MergeWindow = transcript.DefaultWindow
	}
	if c.RecoveryScanLimit <= 0 {
		c.RecoveryScanLimit = 20
	}
}

// Worker executes the full pipeline for one claimed job at a time.
type Worker struct {
	log        *slog.Logger
	cfg        Config
	store      jobs.Store
	docs       document.Store
	source     attach.Source
	normalizer *audio.Normalizer
	asr        asr.Transcriber
	cleaner    cleanup.Cleaner
}

// New creates a Worker.
func New(
	log *slog.Logger,
	cfg Config,
	store jobs.Store,
	docs document.Store,
	source attach.Source,
	normalizer *audio.Normalizer,
	transcriber asr.Transcriber,
	cleaner cleanup.Cleaner,
) *Worker {
	cfg.applyDefaults()
	return &Worker{
		log:        log,
		cfg:        cfg,
		store:      store,
		docs:       docs,
		source:     source,
		normalizer: normalizer,
		asr:        transcriber,
		cleaner:    cleaner,
	}
}

// ProcessOne executes the pipeline for a claimed job and writes the resulting
// state transition. A panic inside the pipeline is contained and treated as a
// retryable failure with the default backoff. ProcessOne never returns an
// error for pipeline failures; those end in the job row.
func (w *Worker) ProcessOne(ctx context.Context, job *jobs.Job) {
	log := w.log.With("job_id", job.ID, "attachment_id", job.AttachmentID, "attempt", job.Attempts)
	start := time.Now()

	raw, clean, err := w.runPipelineSafe(ctx, job)
	switch {
	case err == nil:
		if cerr := w.store.Complete(job.ID, raw, clean); cerr != nil {
			log.Error("persist completion failed", "err", cerr)
			return
		}
		metrics.RecordOutcome("done")
		log.Info("job done", "duration", time.Since(start))
	case errors.Is(err, document.ErrNodeNotFound):
		log.Warn("target node gone, orphaning job", "stage", "patch", "err", err)
		if oerr := w.store.Orphan(job.ID, err.Error()); oerr != nil {
			log.Error("persist orphan failed", "err", oerr)
		}
		metrics.RecordOutcome("orphaned")
	default:
		delay := w.backoffFor(job.Attempts)
		if errors.Is(err, errPipelinePanic) {
			// A panic gives no signal for attempt-scaled backoff.
			delay = w.cfg.DefaultBackoff
		}
		log.Warn("job failed, requeueing", "err", err, "backoff", delay)
		if rerr := w.store.Retry(job.ID, err.Error(), delay); rerr != nil {
			log.Error("persist retry failed", "err", rerr)
		}
		metrics.RecordOutcome("retried")
	}
}

// errPipelinePanic marks failures recovered from a panic; they requeue with
// the flat default backoff instead of the attempt-scaled one.
var errPipelinePanic = errors.New("pipeline panic")

func (w *Worker) runPipelineSafe(ctx context.Context, job *jobs.Job) (raw, clean string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPipelinePanic, r)
		}
	}()
	return w.runPipeline(ctx, job)
}

func (w *Worker) runPipeline(ctx context.Context, job *jobs.Job) (string, string, error) {
	stageStart := time.Now()
	data, err := w.source.FetchBytes(ctx, job.UserID, job.DocumentID, job.StoredRef)
	if err != nil {
		return "", "", fmt.Errorf("download attachment: %w", err)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("attachment %s is empty", job.AttachmentID)
	}
	metrics.ObserveStage("download", time.Since(stageStart).Seconds())

	workDir, err := os.MkdirTemp("", "voicescribe-*")
	if err != nil {
		return "", "", fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	stageStart = time.Now()
	chunks, err := w.normalizer.Prepare(ctx, data, workDir)
	if err != nil {
		return "", "", fmt.Errorf("normalize audio: %w", err)
	}
	metrics.ObserveStage("normalize", time.Since(stageStart).Seconds())

	stageStart = time.Now()
	texts := make([]string, 0, len(chunks))
	prompt := w.cfg.ASRPrompt
	for _, chunk := range chunks {
		b, err := os.ReadFile(chunk.Path)
		if err != nil {
			return "", "", fmt.Errorf("read chunk %d: %w", chunk.Index, err)
		}
		text, err := w.asr.Transcribe(ctx, b, prompt)
		if err != nil {
			return "", "", fmt.Errorf("transcribe chunk %d: %w", chunk.Index, err)
		}
		texts = append(texts, text)
		metrics.ChunksTranscribed.Inc()
		// Steer the next chunk with the tail of this one.
		prompt = lastWords(text, w.cfg.MergeWindow)
	}
	metrics.ObserveStage("transcribe", time.Since(stageStart).Seconds())

	raw := transcript.Merge(texts, w.cfg.MergeWindow)
	if raw == "" {
		return "", "", fmt.Errorf("merged transcript is empty")
	}

	stageStart = time.Now()
	clean := raw
	res, err := w.cleaner.Cleanup(ctx, raw)
	if err != nil {
		return "", "", fmt.Errorf("cleanup transcript: %w", err)
	}
	if res.Clean != "" {
		clean = res.Clean
	}
	metrics.ObserveStage("cleanup", time.Since(stageStart).Seconds())

	stageStart = time.Now()
	if err := w.patchDocument(ctx, job, clean); err != nil {
		return "", "", err
	}
	metrics.ObserveStage("patch", time.Since(stageStart).Seconds())

	return raw, clean, nil
}

// patchDocument re-fetches the current document and applies the transcript, so
// the patch always targets the latest state and stays safe to retry.
func (w *Worker) patchDocument(ctx context.Context, job *jobs.Job, clean string) error {
	art, _, err := w.docs.Get(ctx, job.DocumentID, job.UserID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	att := document.Attachment{
		ID:          job.AttachmentID,
		StoredRef:   job.StoredRef,
		DisplayName: job.DisplayName,
	}
	if err := document.Apply(art, job.NodeID, att, clean); err != nil {
		return err
	}
	if err := w.docs.Save(ctx, job.DocumentID, job.UserID, art); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// backoffFor doubles the base delay per attempt, capped at the configured maximum.
func (w *Worker) backoffFor(attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 6 {
		shift = 6
	}
	delay := w.cfg.BackoffBase << uint(shift)
	if delay > w.cfg.BackoffMax || delay <= 0 {
		delay = w.cfg.BackoffMax
	}
	return delay
}

// lastWords returns the trailing n whitespace-separated words of s.
func lastWords(s string, n int) string {
	ws := strings.Fields(s)
	if len(ws) > n {
		ws = ws[len(ws)-n:]
	}
	return strings.Join(ws, " ")
}
