package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("video: api key is required")

// Options configures the generation provider client.
type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	FetchTimeout  time.Duration
	// RetryBaseDelay seeds the exponential backoff for asset downloads.
	// Overridable so tests do not sleep.
	RetryBaseDelay time.Duration
}

// Client performs HTTP calls against the long-running video generation API.
type Client struct {
	apiKey        string
	baseURL       string
	model         string
	httpClient    *http.Client
	logger        *infra.Logger
	submitTimeout time.Duration
	pollTimeout   time.Duration
	fetchTimeout  time.Duration
	retryBase     time.Duration
}

const fetchAttempts = 3

type submitRequest struct {
	Instances  []submitInstance `json:"instances"`
	Parameters submitParams     `json:"parameters"`
}

type submitInstance struct {
	Prompt string `json:"prompt"`
}

type submitParams struct {
	AspectRatio     string `json:"aspectRatio"`
	Resolution      string `json:"resolution"`
	DurationSeconds int    `json:"durationSeconds"`
	SampleCount     int    `json:"sampleCount"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		State           string `json:"state"`
		ProgressPercent *int   `json:"progressPercent"`
	} `json:"metadata"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type providerErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-3.0-generate-001"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		model:         model,
		httpClient:    httpClient,
		logger:        logger,
		submitTimeout: durationOr(opts.SubmitTimeout, 30*time.Second),
		pollTimeout:   durationOr(opts.PollTimeout, 15*time.Second),
		fetchTimeout:  durationOr(opts.FetchTimeout, 60*time.Second),
		retryBase:     durationOr(opts.RetryBaseDelay, 2*time.Second),
	}, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit validates the request and starts a long-running generation
// operation. Validation happens before any network call.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (SubmitResult, error) {
	if err := ValidateRequest(req); err != nil {
		return SubmitResult{}, err
	}
	if !c.HasCredentials() {
		return SubmitResult{}, ErrMissingAPIKey
	}
	payload := submitRequest{
		Instances: []submitInstance{{Prompt: strings.TrimSpace(req.Prompt)}},
		Parameters: submitParams{
			AspectRatio:     req.AspectRatio,
			Resolution:      req.Resolution,
			DurationSeconds: req.DurationSeconds,
			SampleCount:     req.Variants,
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	var op operationResponse
	if err := c.postJSON(ctx, endpoint, payload, &op); err != nil {
		return SubmitResult{}, err
	}
	if op.Name == "" {
		return SubmitResult{}, &ProviderError{Code: CodeProviderInternal, Message: "empty operation name"}
	}
	c.logger.Debug().Str("model", c.model).Str("job_id", op.Name).Msg("video: submitted generation job")
	return SubmitResult{JobID: op.Name, Status: domain.JobStatusPending}, nil
}

// PollStatus fetches the current state of an operation. Idempotent and
// side-effect free.
func (c *Client) PollStatus(ctx context.Context, jobID string) (StatusResult, error) {
	if jobID == "" {
		return StatusResult{}, fmt.Errorf("video: job id is required: %w", domain.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	var op operationResponse
	if err := c.getJSON(ctx, c.baseURL+"/"+strings.TrimPrefix(jobID, "/"), &op); err != nil {
		return StatusResult{}, err
	}
	return statusFromOperation(op), nil
}

func statusFromOperation(op operationResponse) StatusResult {
	result := StatusResult{Progress: -1}
	if op.Metadata.ProgressPercent != nil {
		result.Progress = *op.Metadata.ProgressPercent
	}
	if !op.Done {
		switch strings.ToUpper(op.Metadata.State) {
		case "QUEUED", "PENDING", "":
			result.State = StateQueued
		default:
			result.State = StateRunning
		}
		return result
	}
	if op.Error.Message != "" || op.Error.Code != 0 {
		result.State = StateFailed
		result.Message = op.Error.Message
		return result
	}
	result.State = StateSucceeded
	for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
		if sample.Video.URI == "" {
			continue
		}
		result.Descriptors = append(result.Descriptors, ResultDescriptor{
			URI:      sample.Video.URI,
			MimeType: sample.Video.MimeType,
		})
	}
	return result
}

// FetchAssets resolves the finished-result descriptors of a terminal-success
// job and downloads their bytes with bounded retry (3 attempts, backoff
// 2s/4s/8s per descriptor).
func (c *Client) FetchAssets(ctx context.Context, jobID string) ([]AssetPayload, error) {
	status, err := c.PollStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status.State != StateSucceeded {
		return nil, fmt.Errorf("video: job %s is %s: %w", jobID, status.State, domain.ErrNotFinished)
	}
	if len(status.Descriptors) == 0 {
		return nil, &ProviderError{Code: CodeProviderInternal, Message: "succeeded operation has no result videos"}
	}
	assets := make([]AssetPayload, 0, len(status.Descriptors))
	for _, descriptor := range status.Descriptors {
		payload, err := c.FetchAsset(ctx, descriptor)
		if err != nil {
			return nil, err
		}
		assets = append(assets, payload)
	}
	return assets, nil
}

// FetchAsset downloads a single finished video with bounded retry.
func (c *Client) FetchAsset(ctx context.Context, descriptor ResultDescriptor) (AssetPayload, error) {
	data, err := c.downloadWithRetry(ctx, descriptor)
	if err != nil {
		return AssetPayload{}, err
	}
	mime := descriptor.MimeType
	if mime == "" {
		mime = "video/mp4"
	}
	return AssetPayload{Data: data, MimeType: mime}, nil
}

func (c *Client) downloadWithRetry(ctx context.Context, descriptor ResultDescriptor) ([]byte, error) {
	delay := c.retryBase
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		data, err := c.downloadOnce(ctx, descriptor.URI)
		if err == nil {
			return data, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt).Str("uri", descriptor.URI).Msg("video: asset download failed")
		if attempt == fetchAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, fmt.Errorf("video: %d download attempts failed: %v: %w", fetchAttempts, lastErr, domain.ErrDownloadFailed)
}

func (c *Client) downloadOnce(ctx context.Context, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("video: build download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, c.responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("video: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("video: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("video: build request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}
	if resp.StatusCode >= 300 {
		return providerErrorFrom(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Code: CodeProviderInternal, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (c *Client) responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return providerErrorFrom(resp.StatusCode, raw)
}

func providerErrorFrom(status int, raw []byte) *ProviderError {
	message := strings.TrimSpace(string(raw))
	var detail providerErrorBody
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		message = detail.Error.Message
	}
	return &ProviderError{Code: classifyStatus(status), Status: status, Message: message}
}
