package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/ragbot/internal/errs"
)

const (
	// MaxLocalTextChars is the longest text the local service accepts.
	MaxLocalTextChars = 5000

	batchPath = "/api/v1/embeddings/batch"
	readyPath = "/api/v1/health/ready"
)

// LocalBackend calls the self-hosted sentence-transformer embedding service.
type LocalBackend struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ Backend       = (*LocalBackend)(nil)
	_ HealthChecker = (*LocalBackend)(nil)
)

// NewLocalBackend creates a backend for the service at baseURL.
// A nil httpClient uses http.DefaultClient.
func NewLocalBackend(baseURL string, httpClient *http.Client) (*LocalBackend, error) {
	if baseURL == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "local embedding url not set")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LocalBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) SupportsBatch() bool { return true }

type localBatchRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	Normalize bool     `json:"normalize"`
}

type localBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Count      int         `json:"count"`
}

type localErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// EmbedBatch posts up to MaxBatchSize texts to the batch endpoint.
func (b *LocalBackend) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, errs.Wrap(errs.ErrInvalidInput, "batch of %d exceeds %d texts", len(texts), MaxBatchSize)
	}
	for i, t := range texts {
		if n := utf8.RuneCountInString(t); n > MaxLocalTextChars {
			return nil, errs.Wrap(errs.ErrInvalidInput, "text %d has %d characters, limit is %d", i, n, MaxLocalTextChars)
		}
	}

	body, err := json.Marshal(localBatchRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, errs.FromTransport(b.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.FromTransport(b.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.FromStatus(b.Name(), resp.StatusCode, "", errorDetail(raw))
	}

	var out localBatchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.Backend(b.Name(), fmt.Sprintf("decoding response: %v", err))
	}
	return out.Embeddings, nil
}

// Health calls the readiness probe.
func (b *LocalBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+readyPath, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errs.FromTransport(b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: local embedding service not ready: %s", errs.ErrUnavailable, errorDetail(raw))
	}
	return nil
}

// WaitReady polls the readiness probe with exponential backoff while the
// service loads its models. Initial interval 500ms, max interval 10s,
// max elapsed 60s.
func (b *LocalBackend) WaitReady(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 60 * time.Second

	if err := backoff.Retry(func() error {
		return b.Health(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("%w: local embedding service: %v", errs.ErrUnavailable, err)
	}
	return nil
}

// errorDetail pulls the "detail" field out of an error body, which is either
// a string or a list of validation errors.
func errorDetail(raw []byte) string {
	var e localErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return string(e.Detail)
}
