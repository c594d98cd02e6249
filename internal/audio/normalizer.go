// Package audio converts arbitrary input audio into a canonical mono mp3 and
// splits long recordings into overlapping chunks sized for the transcription
// service. All codec work happens in ffmpeg/ffprobe subprocesses.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voicescribe/internal/common"
)

// Config controls normalization and segmentation.
type Config struct {
	FFmpegPath     string
	FFprobePath    string
	ChunkSeconds   float64
	OverlapSeconds float64
	MaxChunkBytes  int64
	CommandTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = common.FFmpegExecutable
	}
	if c.FFprobePath == "" {
		c.FFprobePath = common.FFprobeExecutable
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 600
	}
	if c.OverlapSeconds <= 0 {
		c.OverlapSeconds = 15
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = 20 * 1024 * 1024
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Minute
	}
}

// Chunk is one bounded slice of normalized audio ready for transcription.
type Chunk struct {
	Index   int
	Path    string
	Start   float64
	Seconds float64
}

// Normalizer orchestrates the ffmpeg/ffprobe subprocess calls.
type Normalizer struct {
	log    *slog.Logger
	cfg    Config
	runner Runner
}

// New creates a Normalizer using the real exec runner.
func New(log *slog.Logger, cfg Config) *Normalizer {
	return NewWithRunner(log, cfg, &ExecRunner{})
}

// NewWithRunner creates a Normalizer with an injected command runner.
func NewWithRunner(log *slog.Logger, cfg Config, runner Runner) *Normalizer {
	cfg.applyDefaults()
	return &Normalizer{log: log, cfg: cfg, runner: runner}
}

// Prepare writes raw audio into workDir, converts it to the canonical format,
// probes duration, and returns the ordered chunk list. A zero or unparsable
// probed duration degrades to a single whole-file chunk.
func (n *Normalizer) Prepare(ctx context.Context, raw []byte, workDir string) ([]Chunk, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("audio input is empty")
	}
	inputPath := filepath.Join(workDir, "input.raw")
	if err := os.WriteFile(inputPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write raw audio: %w", err)
	}

	normalizedPath := filepath.Join(workDir, "normalized"+common.CanonicalExt)
	if err := n.convert(ctx, inputPath, normalizedPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(normalizedPath)
	if err != nil {
		return nil, fmt.Errorf("normalized audio missing: %w", err)
	}

	duration, err := n.ProbeDuration(ctx, normalizedPath)
	if err != nil {
		n.log.Warn("duration probe failed, using single chunk", "err", err)
		duration = 0
	}
	n.log.Info("audio normalized",
		"size", humanize.Bytes(uint64(info.Size())),
		"duration_s", duration)

	spans := planSegments(duration, info.Size(), n.cfg.ChunkSeconds, n.cfg.OverlapSeconds, n.cfg.MaxChunkBytes)
	if spans == nil {
		return []Chunk{{Index: 0, Path: normalizedPath, Start: 0, Seconds: duration}}, nil
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, s := range spans {
		chunkPath := filepath.Join(workDir, fmt.Sprintf("chunk-%03d%s", i, common.CanonicalExt))
		if err := n.cut(ctx, normalizedPath, chunkPath, s.start, s.seconds); err != nil {
			return nil, err
		}
		ci, err := os.Stat(chunkPath)
		if err != nil {
			return nil, fmt.Errorf("chunk %d missing: %w", i, err)
		}
		if ci.Size() > n.cfg.MaxChunkBytes {
			// Should not happen with a sane chunk duration / byte cap pairing.
			return nil, fmt.Errorf("chunk %d is %s, exceeds cap %s",
				i, humanize.Bytes(uint64(ci.Size())), humanize.Bytes(uint64(n.cfg.MaxChunkBytes)))
		}
		chunks = append(chunks, Chunk{Index: i, Path: chunkPath, Start: s.start, Seconds: s.seconds})
	}
	return chunks, nil
}

func (n *Normalizer) convert(ctx context.Context, inputPath, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.CommandTimeout)
	defer cancel()
	args := buildConvertArgs(inputPath, outPath)
	res, err := n.runner.Run(ctx, n.cfg.FFmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg convert (exit %d): %s: %w", res.ExitCode, tail(res.Stderr), err)
	}
	return nil
}

// ProbeDuration asks ffprobe for the duration of the file in seconds.
func (n *Normalizer) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.CommandTimeout)
	defer cancel()
	args := buildProbeArgs(path)
	res, err := n.runner.Run(ctx, n.cfg.FFprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe (exit %d): %s: %w", res.ExitCode, tail(res.Stderr), err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return d, nil
}

func (n *Normalizer) cut(ctx context.Context, inputPath, outPath string, start, seconds float64) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.CommandTimeout)
	defer cancel()
	args := buildCutArgs(inputPath, outPath, start, seconds)
	res, err := n.runner.Run(ctx, n.cfg.FFmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg cut at %.1fs (exit %d): %s: %w", start, res.ExitCode, tail(res.Stderr), err)
	}
	return nil
}

// buildConvertArgs builds CLI args for canonical mono mp3 output.
func buildConvertArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(common.CanonicalSampleRate),
		"-b:a", common.CanonicalBitrate,
		"-c:a", "libmp3lame",
		outPath,
	}
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

func buildCutArgs(inputPath, outPath string, start, seconds float64) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(seconds),
		"-i", inputPath,
		"-c", "copy",
		outPath,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const limit = 400
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
