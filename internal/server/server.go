package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicescribe/internal/common"
	"voicescribe/internal/config"
	"voicescribe/internal/jobs"
)

// maxBodyBytes bounds the JSON request body for the enqueue endpoint.
const maxBodyBytes = 1 << 20

// WorkerStarter is implemented by the worker supervisor. Enqueueing a job
// kicks the background loop so a freshly booted idle instance picks the job
// up without waiting for an external trigger.
type WorkerStarter interface {
	EnsureStarted()
}

type Service struct {
	Log        *slog.Logger
	Cfg        *config.Config
	Store      jobs.Store
	Supervisor WorkerStarter
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle(http.MethodGet+" "+common.PathMetrics, promhttp.Handler())

	mux.HandleFunc(http.MethodPost+" "+common.PathTranscripts, svc.withCommon(svc.handleCreateTranscript))
	// Pattern match /v1/transcripts/{id}
	mux.HandleFunc(http.MethodGet+" "+common.PathTranscripts+"/", svc.withCommon(svc.handleGetTranscriptByPrefix))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	}
}

type createRequest struct {
	UserID       string `json:"user_id"`
	DocumentID   string `json:"document_id"`
	NodeID       string `json:"node_id"`
	AttachmentID string `json:"attachment_id"`
	StoredRef    string `json:"stored_ref"`
	DisplayName  string `json:"display_name"`
}

type createResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Created   bool   `json:"created"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) handleCreateTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	job, created, err := svc.Store.Enqueue(jobs.EnqueueRequest{
		UserID:       req.UserID,
		DocumentID:   req.DocumentID,
		NodeID:       req.NodeID,
		AttachmentID: req.AttachmentID,
		StoredRef:    req.StoredRef,
		DisplayName:  req.DisplayName,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if svc.Log != nil {
			svc.Log.Error("persist job", "error", err)
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if svc.Log != nil {
		svc.Log.Info("job enqueued",
			"job_id", job.ID,
			"attachment_id", job.AttachmentID,
			"created", created)
	}
	if svc.Supervisor != nil {
		svc.Supervisor.EnsureStarted()
	}

	status := http.StatusAccepted
	if !created {
		// Duplicate enqueue for the same attachment returns the existing job.
		status = http.StatusOK
	}
	writeJSON(w, status, createResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Created:   created,
		StatusURL: path.Join(common.PathTranscripts, job.ID),
	})
}

var idPattern = regexp.MustCompile(fmt.Sprintf("^%s/([a-f0-9-]+)$", common.PathTranscripts))

func (svc *Service) handleGetTranscriptByPrefix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	m := idPattern.FindStringSubmatch(r.URL.Path)
	if len(m) != 2 {
		http.NotFound(w, r)
		return
	}
	job, err := svc.Store.GetJob(m[1])
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, jobToOut(job))
}

func jobToOut(job *jobs.Job) map[string]any {
	out := map[string]any{
		"job_id":        job.ID,
		"status":        string(job.Status),
		"document_id":   job.DocumentID,
		"node_id":       job.NodeID,
		"attachment_id": job.AttachmentID,
		"attempts":      job.Attempts,
		"created_at":    job.CreatedAt,
		"updated_at":    job.UpdatedAt,
	}
	if job.LastError != "" {
		out["error"] = job.LastError
	}
	if job.Status == jobs.StatusDone {
		out["text"] = job.CleanText
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
