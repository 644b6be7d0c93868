// Package pipeline moves finished assets from the provider into durable
// object storage. Downloads go to local scratch first; the durable upload is
// the second phase, and a failed upload leaves the scratch copy in place with
// the reference flagged for later reconciliation.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/video"
)

// AssetSource resolves and downloads finished assets from the provider.
type AssetSource interface {
	PollStatus(ctx context.Context, jobID string) (video.StatusResult, error)
	FetchAsset(ctx context.Context, descriptor video.ResultDescriptor) (video.AssetPayload, error)
}

// ScratchStore is the local staging area for downloaded assets.
type ScratchStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DurableStore is the object storage backend that outlives the process.
type DurableStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// Options wires the pipeline's collaborators.
type Options struct {
	Source   AssetSource
	Scratch  ScratchStore
	Durable  DurableStore
	Registry domain.JobRegistry
	Logger   *infra.Logger
	Metrics  infra.Metrics
}

// Pipeline persists finished assets. Persist runs at most once per job; a
// second call on a finished job returns the cached references.
type Pipeline struct {
	source   AssetSource
	scratch  ScratchStore
	durable  DurableStore
	registry domain.JobRegistry
	logger   *infra.Logger
	metrics  infra.Metrics

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// New constructs a Pipeline. Durable may be nil when no object storage is
// configured; every asset then stays on the local fallback.
func New(opts Options) *Pipeline {
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
	return &Pipeline{
		source:   opts.Source,
		scratch:  opts.Scratch,
		durable:  opts.Durable,
		registry: opts.Registry,
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) lockJob(jobID string) func() {
	p.mu.Lock()
	jobMu, ok := p.inflight[jobID]
	if !ok {
		jobMu = &sync.Mutex{}
		p.inflight[jobID] = jobMu
	}
	p.mu.Unlock()
	jobMu.Lock()
	return jobMu.Unlock
}

// Persist downloads the job's finished assets and uploads them to durable
// storage. A durable-upload failure is a warning, not a job failure: the
// local copy is kept and the reference marked DurablePending so Reconcile can
// retry without re-fetching from the provider.
func (p *Pipeline) Persist(ctx context.Context, jobID string) ([]domain.AssetReference, error) {
	unlock := p.lockJob(jobID)
	defer unlock()

	job, err := p.registry.Find(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusFinished {
		return job.Assets, nil
	}
	if job.Status == domain.JobStatusFailed {
		return nil, fmt.Errorf("pipeline: job %s already failed: %w", jobID, domain.ErrNotFinished)
	}

	status, err := p.source.PollStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status.State != video.StateSucceeded {
		return nil, fmt.Errorf("pipeline: job %s is %s on the provider: %w", jobID, status.State, domain.ErrNotFinished)
	}

	if len(status.Descriptors) == 0 {
		err := fmt.Errorf("pipeline: provider reported success without results: %w", domain.ErrDownloadFailed)
		p.failJob(jobID, err)
		return nil, err
	}

	p.setStage(jobID, domain.JobStatusDownloading)
	payloads, err := p.fetchAll(ctx, status.Descriptors)
	if err != nil {
		p.failJob(jobID, err)
		return nil, err
	}

	p.setStage(jobID, domain.JobStatusUploading)
	refs, warning := p.storeAll(ctx, job, payloads)
	if len(refs) == 0 {
		err := fmt.Errorf("pipeline: no asset could be stored: %w", domain.ErrUploadFailed)
		p.failJob(jobID, err)
		return nil, err
	}

	now := time.Now()
	if err := p.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFinished
		j.Stage = domain.StageFor(domain.JobStatusFinished)
		j.Progress = domain.ProgressFor(domain.JobStatusFinished, -1)
		j.Assets = refs
		j.Warning = warning
		j.CompletedAt = now
	}); err != nil {
		return nil, err
	}
	p.metrics.IncJobCompleted(string(domain.JobStatusFinished))
	p.logger.Info().Str("job_id", jobID).Int("assets", len(refs)).Msg("pipeline: job finished")
	return refs, nil
}

// fetchAll downloads every variant. Variants download concurrently; the
// first error cancels the rest.
func (p *Pipeline) fetchAll(ctx context.Context, descriptors []video.ResultDescriptor) ([]video.AssetPayload, error) {
	payloads := make([]video.AssetPayload, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, descriptor := range descriptors {
		i, descriptor := i, descriptor
		g.Go(func() error {
			payload, err := p.source.FetchAsset(gctx, descriptor)
			if err != nil {
				return err
			}
			payloads[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return payloads, nil
}

func (p *Pipeline) storeAll(ctx context.Context, job *domain.Job, payloads []video.AssetPayload) ([]domain.AssetReference, string) {
	dims, _ := video.DimensionsFor(job.Request.AspectRatio, job.Request.Resolution)
	promptHash := hashPrompt(job.Request.Prompt)
	now := time.Now().Unix()

	var refs []domain.AssetReference
	warning := ""
	for idx, payload := range payloads {
		filename := fmt.Sprintf("%s-%d-%d.mp4", promptHash, now, idx+1)
		key := fmt.Sprintf("videos/%s/%s", shortJobID(job.ID), filename)

		ref := domain.AssetReference{
			Filename:        filename,
			Bytes:           int64(len(payload.Data)),
			PromptHash:      promptHash,
			Width:           dims.Width,
			Height:          dims.Height,
			DurationSeconds: job.Request.DurationSeconds,
			AspectRatio:     job.Request.AspectRatio,
			Resolution:      job.Request.Resolution,
		}

		localKey, scratchErr := p.scratch.Write(ctx, key, payload.Data)
		if scratchErr != nil {
			p.logger.Warn().Err(scratchErr).Str("job_id", job.ID).Msg("pipeline: scratch write failed")
		} else {
			ref.LocalKey = localKey
		}

		durableURL, uploadErr := p.uploadDurable(ctx, key, payload, ref)
		switch {
		case uploadErr == nil:
			ref.DurableURL = durableURL
			if ref.LocalKey != "" {
				if err := p.scratch.Delete(ctx, ref.LocalKey); err != nil {
					p.logger.Warn().Err(err).Str("key", ref.LocalKey).Msg("pipeline: scratch cleanup failed")
				}
				ref.LocalKey = ""
			}
		case ref.LocalKey != "":
			p.logger.Warn().Err(uploadErr).Str("job_id", job.ID).Msg("pipeline: durable upload failed, keeping local copy")
			p.metrics.IncDurableUploadFailure()
			ref.DurablePending = true
			warning = "durable upload failed; serving local copy"
		default:
			p.logger.Error().Err(uploadErr).Str("job_id", job.ID).Msg("pipeline: asset lost, no storage accepted it")
			continue
		}

		p.metrics.IncAssetPersisted()
		refs = append(refs, ref)
	}
	return refs, warning
}

func (p *Pipeline) uploadDurable(ctx context.Context, key string, payload video.AssetPayload, ref domain.AssetReference) (string, error) {
	if p.durable == nil {
		return "", fmt.Errorf("pipeline: no durable store configured: %w", domain.ErrUploadFailed)
	}
	metadata := map[string]string{
		"width":       strconv.Itoa(ref.Width),
		"height":      strconv.Itoa(ref.Height),
		"duration":    strconv.Itoa(ref.DurationSeconds),
		"aspect":      ref.AspectRatio,
		"resolution":  ref.Resolution,
		"prompt-hash": ref.PromptHash,
	}
	url, err := p.durable.Upload(ctx, key, payload.Data, payload.MimeType, metadata)
	if err != nil {
		return "", fmt.Errorf("pipeline: durable upload: %v: %w", err, domain.ErrUploadFailed)
	}
	return url, nil
}

// Reconcile retries the durable upload for references that are still local
// only, reading from scratch instead of re-fetching from the provider.
// Returns the number of references promoted to durable storage.
func (p *Pipeline) Reconcile(ctx context.Context, jobID string) (int, error) {
	unlock := p.lockJob(jobID)
	defer unlock()

	job, err := p.registry.Find(jobID)
	if err != nil {
		return 0, err
	}
	promoted := 0
	refs := append([]domain.AssetReference(nil), job.Assets...)
	for i := range refs {
		if !refs[i].DurablePending || refs[i].LocalKey == "" {
			continue
		}
		data, err := p.scratch.Read(ctx, refs[i].LocalKey)
		if err != nil {
			p.logger.Warn().Err(err).Str("key", refs[i].LocalKey).Msg("pipeline: reconcile read failed")
			continue
		}
		key := fmt.Sprintf("videos/%s/%s", shortJobID(job.ID), refs[i].Filename)
		url, err := p.uploadDurable(ctx, key, video.AssetPayload{Data: data, MimeType: "video/mp4"}, refs[i])
		if err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: reconcile upload failed")
			continue
		}
		if err := p.scratch.Delete(ctx, refs[i].LocalKey); err != nil {
			p.logger.Warn().Err(err).Str("key", refs[i].LocalKey).Msg("pipeline: scratch cleanup failed")
		}
		refs[i].DurableURL = url
		refs[i].LocalKey = ""
		refs[i].DurablePending = false
		promoted++
	}
	if promoted == 0 {
		return 0, nil
	}
	warning := job.Warning
	if !anyPending(refs) {
		warning = ""
	}
	err = p.registry.ReplaceAssets(jobID, refs, warning)
	return promoted, err
}

func anyPending(refs []domain.AssetReference) bool {
	for _, ref := range refs {
		if ref.DurablePending {
			return true
		}
	}
	return false
}

// RemoveLocal best-effort deletes the job's locally cached artifacts. Errors
// are logged and swallowed: local cleanup must never fail a user-facing
// operation. Called on job deletion, so the per-job guard is released here
// too; the guard map would otherwise grow for the process lifetime.
func (p *Pipeline) RemoveLocal(ctx context.Context, job *domain.Job) {
	if job == nil {
		return
	}
	for _, ref := range job.Assets {
		if ref.LocalKey == "" {
			continue
		}
		if err := p.scratch.Delete(ctx, ref.LocalKey); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", ref.LocalKey).Msg("pipeline: local artifact cleanup failed")
		}
	}
	p.release(job.ID)
}

func (p *Pipeline) release(jobID string) {
	p.mu.Lock()
	delete(p.inflight, jobID)
	p.mu.Unlock()
}

func (p *Pipeline) setStage(jobID string, status domain.JobStatus) {
	if err := p.registry.Update(jobID, func(j *domain.Job) {
		j.Status = status
		j.Stage = domain.StageFor(status)
		j.Progress = domain.ProgressFor(status, -1)
	}); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: stage update failed")
	}
}

func (p *Pipeline) failJob(jobID string, cause error) {
	if err := p.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Stage = domain.StageFor(domain.JobStatusFailed)
		j.ErrorMsg = cause.Error()
		j.CompletedAt = time.Now()
	}); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: fail update failed")
	}
	p.metrics.IncJobCompleted(string(domain.JobStatusFailed))
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(prompt)))
	return hex.EncodeToString(sum[:])[:12]
}

func shortJobID(jobID string) string {
	if idx := strings.LastIndex(jobID, "/"); idx >= 0 {
		return jobID[idx+1:]
	}
	return jobID
}
