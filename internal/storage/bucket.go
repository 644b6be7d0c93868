package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// BucketOptions configures the durable object storage client.
type BucketOptions struct {
	BaseURL    string
	Bucket     string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// BucketStore uploads assets to an S3-style object storage service over
// HTTP. Uploaded objects are the only state that survives a process restart.
type BucketStore struct {
	baseURL    string
	bucket     string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewBucketStore constructs a client with sane defaults.
func NewBucketStore(opts BucketOptions) (*BucketStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: bucket base url is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		bucket = "generated-videos"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &BucketStore{
		baseURL:    baseURL,
		bucket:     bucket,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Upload stores data under key with the given content type and metadata and
// returns the public object URL. Existing objects are overwritten.
func (s *BucketStore) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, cleanKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: build upload request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	for name, value := range metadata {
		req.Header.Set("x-amz-meta-"+name, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("storage: upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	s.logger.Debug().Str("key", cleanKey).Int("bytes", len(data)).Msg("storage: uploaded object")
	return s.PublicURL(cleanKey), nil
}

// Delete removes the object at key. Best effort; 404 is not an error.
func (s *BucketStore) Delete(ctx context.Context, key string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, cleanKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("storage: build delete request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage: delete status %d", resp.StatusCode)
	}
	return nil
}

// PublicURL returns the canonical public URL for an object key.
func (s *BucketStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, key)
}
