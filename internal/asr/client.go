// Package asr turns one normalized audio chunk into raw text through the
// OpenAI speech-to-text API.
package asr

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voicescribe/internal/common"
)

const defaultModel = "whisper-1"

// Transcriber converts one audio chunk into raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk []byte, prompt string) (string, error)
}

// Config holds provider settings for the transcription client.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Prompt   string
	Timeout  time.Duration
	ProxyURL string
}

// Client implements Transcriber against the OpenAI API.
type Client struct {
	cfg    Config
	client openai.Client
}

// New creates a transcription client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(common.NewHTTPClient(cfg.Timeout, cfg.ProxyURL)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, client: openai.NewClient(opts...)}
}

var _ Transcriber = (*Client)(nil)

// Transcribe submits one chunk and returns its raw transcript text. The
// per-chunk prompt (usually the tail of the previous transcript) steers the
// model across chunk boundaries.
func (c *Client) Transcribe(ctx context.Context, chunk []byte, prompt string) (string, error) {
	if len(chunk) == 0 {
		return "", fmt.Errorf("audio chunk is empty")
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(chunk), "chunk"+common.CanonicalExt, "audio/mpeg"),
		Model: openai.AudioModel(c.cfg.Model),
	}
	if p := strings.TrimSpace(prompt); p != "" {
		params.Prompt = openai.String(p)
	}
	res, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("transcription returned empty text")
	}
	return text, nil
}
