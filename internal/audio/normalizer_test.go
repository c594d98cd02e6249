package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
)

// fakeRunner simulates ffmpeg/ffprobe: it creates the output file named by the
// last argument of ffmpeg calls and answers probes with a fixed duration.
type fakeRunner struct {
	duration    string
	convertErr  error
	chunkBytes  int
	invocations [][]string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	r.invocations = append(r.invocations, append([]string{name}, args...))
	if strings.Contains(name, "ffprobe") {
		return RunResult{Stdout: r.duration + "\n"}, nil
	}
	if r.convertErr != nil {
		return RunResult{ExitCode: 1, Stderr: "boom"}, r.convertErr
	}
	out := args[len(args)-1]
	size := r.chunkBytes
	if size <= 0 {
		size = 4
	}
	if err := os.WriteFile(out, make([]byte, size), 0o600); err != nil {
		return RunResult{}, err
	}
	return RunResult{}, nil
}

func newTestNormalizer(t *testing.T, r Runner, cfg Config) *Normalizer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithRunner(log, cfg, r)
}

func TestPrepare_ShortAudioSingleChunk(t *testing.T) {
	r := &fakeRunner{duration: "42.5"}
	n := newTestNormalizer(t, r, Config{ChunkSeconds: 600})

	chunks, err := n.Prepare(context.Background(), []byte("raw"), t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Seconds != 42.5 {
		t.Fatalf("chunk duration = %v", chunks[0].Seconds)
	}
}

func TestPrepare_LongAudioSplitsWithOverlap(t *testing.T) {
	// 20 minutes at 600s chunks and 15s overlap: chunk 0 [0,600), chunk 1 [585,1200).
	r := &fakeRunner{duration: "1200"}
	n := newTestNormalizer(t, r, Config{ChunkSeconds: 600, OverlapSeconds: 15})

	chunks, err := n.Prepare(context.Background(), []byte("raw"), t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].Seconds != 600 {
		t.Fatalf("chunk 0 = %+v", chunks[0])
	}
	if chunks[1].Start != 585 || chunks[1].Seconds != 615 {
		t.Fatalf("chunk 1 = %+v", chunks[1])
	}
}

func TestPrepare_ZeroDurationFallsBackToSingleChunk(t *testing.T) {
	r := &fakeRunner{duration: "0"}
	n := newTestNormalizer(t, r, Config{ChunkSeconds: 600})

	chunks, err := n.Prepare(context.Background(), []byte("raw"), t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected single whole-file chunk, got %d", len(chunks))
	}
}

func TestPrepare_EmptyInputFails(t *testing.T) {
	n := newTestNormalizer(t, &fakeRunner{duration: "10"}, Config{})
	if _, err := n.Prepare(context.Background(), nil, t.TempDir()); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}

func TestPrepare_ConvertFailureSurfacesStderr(t *testing.T) {
	r := &fakeRunner{duration: "10", convertErr: fmt.Errorf("exit status 1")}
	n := newTestNormalizer(t, r, Config{})
	_, err := n.Prepare(context.Background(), []byte("raw"), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestPrepare_OversizedChunkFails(t *testing.T) {
	r := &fakeRunner{duration: "1200", chunkBytes: 64}
	n := newTestNormalizer(t, r, Config{ChunkSeconds: 600, OverlapSeconds: 15, MaxChunkBytes: 16})
	_, err := n.Prepare(context.Background(), []byte("raw"), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "exceeds cap") {
		t.Fatalf("expected byte-cap error, got %v", err)
	}
}

func TestPlanSegments_SizeCapTriggersSplit(t *testing.T) {
	// Duration fits in one chunk but the file is over the byte cap.
	spans := planSegments(300, 50*1024*1024, 600, 15, 20*1024*1024)
	if spans == nil {
		t.Fatalf("expected split for oversized file")
	}
}

func TestPlanSegments_LastChunkCoversRemainder(t *testing.T) {
	spans := planSegments(1500, 1, 600, 15, 1<<30)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	last := spans[2]
	if last.start != 1185 || math.Abs(last.seconds-315) > 1e-9 {
		t.Fatalf("last span = %+v", last)
	}
}

func TestBuildConvertArgs_CanonicalFormat(t *testing.T) {
	args := strings.Join(buildConvertArgs("in.ogg", "out.mp3"), " ")
	for _, want := range []string{"-ac 1", "-ar 16000", "-b:a 48k", "-c:a libmp3lame"} {
		if !strings.Contains(args, want) {
			t.Fatalf("convert args missing %q: %s", want, args)
		}
	}
}
