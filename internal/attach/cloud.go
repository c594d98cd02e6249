package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// CloudConfig configures the cloud-disk proxy source.
type CloudConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
}

// CloudSource fetches attachments from the remote cloud-disk API. Transient
// transport failures and 5xx responses are retried with a fixed delay.
type CloudSource struct {
	cfg        CloudConfig
	httpClient *http.Client
}

// NewCloudSource creates a cloud-disk source.
func NewCloudSource(cfg CloudConfig) *CloudSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	return &CloudSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

var _ Source = (*CloudSource)(nil)

// FetchBytes downloads the stored reference through the proxy endpoint.
func (s *CloudSource) FetchBytes(ctx context.Context, userID, documentID, storedRef string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/files?user=%s&doc=%s&ref=%s",
		strings.TrimRight(s.cfg.BaseURL, "/"),
		url.QueryEscape(userID),
		url.QueryEscape(documentID),
		url.QueryEscape(storedRef),
	)

	var data []byte
	err := retry.Do(
		func() error {
			b, err := s.fetchOnce(ctx, endpoint)
			if err != nil {
				return err
			}
			data = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Terminal answers from the backend are not worth repeating.
			return !isTerminal(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *CloudSource) fetchOnce(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if s.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthRequired
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("cloud fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cloud response: %w", err)
	}
	return data, nil
}

func isTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuthRequired)
}
