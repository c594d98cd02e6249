package attach

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalSource_FetchBytes(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "attachments", "user-1")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ref-1"), []byte("audio-bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewLocalSource(base)
	got, err := src.FetchBytes(context.Background(), "user-1", "doc-1", "ref-1")
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	if string(got) != "audio-bytes" {
		t.Fatalf("bytes = %q", got)
	}

	if _, err := src.FetchBytes(context.Background(), "user-1", "doc-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloudSource_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	src := NewCloudSource(CloudConfig{BaseURL: srv.URL, Attempts: 3, Delay: time.Millisecond})
	got, err := src.FetchBytes(context.Background(), "u", "d", "r")
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("bytes = %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestCloudSource_NotFoundIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewCloudSource(CloudConfig{BaseURL: srv.URL, Attempts: 3, Delay: time.Millisecond})
	_, err := src.FetchBytes(context.Background(), "u", "d", "r")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("terminal status should not retry, got %d calls", calls)
	}
}
