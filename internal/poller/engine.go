// Package poller drives client-side status polling for tracked jobs. One
// cancellable loop runs per job, so a failing job cannot stall any other.
package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/video"
)

// StatusSource observes provider-side job state.
type StatusSource interface {
	PollStatus(ctx context.Context, jobID string) (video.StatusResult, error)
}

// AssetRunner persists the finished assets of a job.
type AssetRunner interface {
	Persist(ctx context.Context, jobID string) ([]domain.AssetReference, error)
}

// Options wires the engine's collaborators.
type Options struct {
	Source   StatusSource
	Runner   AssetRunner
	Registry domain.JobRegistry
	Logger   *infra.Logger
	Metrics  infra.Metrics
	// InitialInterval is the delay before the first poll and between polls
	// while the job is queued. Defaults to 5s.
	InitialInterval time.Duration
	// MaxInterval caps the processing/rendering backoff. Defaults to 30s.
	MaxInterval time.Duration
}

const (
	// Backoff growth applies only while the provider is working; poll
	// errors keep the current interval and fail fast instead (three
	// consecutive failures end the job). Growing on errors too is an open
	// product question; the current choice favors quick feedback.
	backoffFactor        = 1.5
	maxConsecutiveErrors = 3
)

// Engine runs one polling loop per tracked job.
type Engine struct {
	source   StatusSource
	runner   AssetRunner
	registry domain.JobRegistry
	logger   *infra.Logger
	metrics  infra.Metrics
	initial  time.Duration
	max      time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New constructs an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infra.NoopMetrics{}
	}
	initial := opts.InitialInterval
	if initial <= 0 {
		initial = 5 * time.Second
	}
	max := opts.MaxInterval
	if max < initial {
		max = 30 * time.Second
	}
	return &Engine{
		source:   opts.Source,
		runner:   opts.Runner,
		registry: opts.Registry,
		logger:   logger,
		metrics:  metrics,
		initial:  initial,
		max:      max,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Track starts a polling loop for jobID. Tracking an already-tracked job is
// a no-op.
func (e *Engine) Track(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, ok := e.cancels[jobID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[jobID] = cancel
	e.wg.Add(1)
	go e.run(ctx, jobID)
}

// Stop cancels the loop for jobID. Idempotent; stopping an unknown or
// already-stopped job is a no-op.
func (e *Engine) Stop(jobID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	delete(e.cancels, jobID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close stops every loop and waits for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for jobID, cancel := range e.cancels {
		cancel()
		delete(e.cancels, jobID)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, jobID string) {
	defer e.wg.Done()
	defer e.Stop(jobID)

	interval := e.initial
	consecutive := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := e.source.PollStatus(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.metrics.IncPollError()
			// Only retry-eligible provider errors ride the consecutive
			// counter. The rest are definitive answers about the job, so
			// retrying would just delay the failure and lose the
			// diagnostic.
			var provErr *video.ProviderError
			if errors.As(err, &provErr) && !provErr.Retryable() {
				e.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: provider rejected status poll")
				message := provErr.Message
				if message == "" {
					message = provErr.Error()
				}
				e.failJob(jobID, message)
				return
			}
			consecutive++
			e.logger.Warn().Err(err).Str("job_id", jobID).Int("consecutive", consecutive).Msg("poller: status poll failed")
			e.recordPollErrors(jobID, consecutive)
			if consecutive >= maxConsecutiveErrors {
				e.failJob(jobID, domain.ErrPollingExhausted.Error())
				return
			}
			timer.Reset(interval)
			continue
		}
		if consecutive != 0 {
			consecutive = 0
			e.recordPollErrors(jobID, 0)
		}

		switch status.State {
		case video.StateQueued:
			e.setProgress(jobID, domain.JobStatusPending, status.Progress)
		case video.StateRunning:
			next := domain.JobStatusProcessing
			if status.Progress >= 50 {
				next = domain.JobStatusRendering
			}
			e.setProgress(jobID, next, status.Progress)
			interval = e.grow(interval)
		case video.StateFailed:
			message := status.Message
			if message == "" {
				message = "provider reported failure"
			}
			e.failJob(jobID, message)
			return
		case video.StateSucceeded:
			if _, err := e.runner.Persist(ctx, jobID); err != nil {
				e.logger.Error().Err(err).Str("job_id", jobID).Msg("poller: asset persistence failed")
			}
			return
		}
		timer.Reset(interval)
	}
}

func (e *Engine) grow(interval time.Duration) time.Duration {
	grown := time.Duration(float64(interval) * backoffFactor)
	if grown > e.max {
		return e.max
	}
	return grown
}

func (e *Engine) setProgress(jobID string, status domain.JobStatus, providerPct int) {
	if err := e.registry.Update(jobID, func(j *domain.Job) {
		j.Status = status
		j.Stage = domain.StageFor(status)
		j.Progress = domain.ProgressFor(status, providerPct)
	}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: progress update failed")
	}
}

func (e *Engine) recordPollErrors(jobID string, count int) {
	if err := e.registry.Update(jobID, func(j *domain.Job) {
		j.PollErrors = count
	}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: counter update failed")
	}
}

func (e *Engine) failJob(jobID, message string) {
	if err := e.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Stage = domain.StageFor(domain.JobStatusFailed)
		j.ErrorMsg = message
		j.CompletedAt = time.Now()
	}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("poller: fail update failed")
	}
	e.metrics.IncJobCompleted(string(domain.JobStatusFailed))
}
