package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"server/internal/domain"
	"server/internal/providers/video"
	"server/internal/registry"
)

type fakeSource struct {
	status    video.StatusResult
	statusErr error
	fetchErr  error
	data      []byte
}

func (f *fakeSource) PollStatus(ctx context.Context, jobID string) (video.StatusResult, error) {
	return f.status, f.statusErr
}

func (f *fakeSource) FetchAsset(ctx context.Context, descriptor video.ResultDescriptor) (video.AssetPayload, error) {
	if f.fetchErr != nil {
		return video.AssetPayload{}, f.fetchErr
	}
	return video.AssetPayload{Data: f.data, MimeType: "video/mp4"}, nil
}

type memScratch struct {
	mu       sync.Mutex
	files    map[string][]byte
	writeErr error
}

func newMemScratch() *memScratch {
	return &memScratch{files: map[string][]byte{}}
}

func (m *memScratch) Write(ctx context.Context, key string, data []byte) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return key, nil
}

func (m *memScratch) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func (m *memScratch) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *memScratch) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type fakeDurable struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (f *fakeDurable) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	return "https://bucket.example.com/object/public/generated-videos/" + key, nil
}

func (f *fakeDurable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func succeededStatus(variants int) video.StatusResult {
	status := video.StatusResult{State: video.StateSucceeded, Progress: 100}
	for i := 0; i < variants; i++ {
		status.Descriptors = append(status.Descriptors, video.ResultDescriptor{
			URI:      fmt.Sprintf("https://cdn.example.com/v%d.mp4", i),
			MimeType: "video/mp4",
		})
	}
	return status
}

func seedJob(t *testing.T, reg *registry.Memory, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:     "models/veo/operations/op-1",
		UserID: "alice",
		Request: domain.GenerationRequest{
			UserID:          "alice",
			Prompt:          "a cat",
			AspectRatio:     "16:9",
			Resolution:      "720p",
			DurationSeconds: 5,
			Variants:        1,
		},
		Status:    status,
		Stage:     domain.StageFor(status),
		Progress:  domain.ProgressFor(status, -1),
		CreatedAt: time.Now(),
	}
	if err := reg.Create(job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestPersistUploadsAndCleansScratch(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusRendering)
	scratch := newMemScratch()
	durable := &fakeDurable{}
	p := New(Options{
		Source:   &fakeSource{status: succeededStatus(2), data: []byte("mp4")},
		Scratch:  scratch,
		Durable:  durable,
		Registry: reg,
	})

	refs, err := p.Persist(context.Background(), "models/veo/operations/op-1")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2", len(refs))
	}
	for _, ref := range refs {
		if ref.DurableURL == "" || ref.LocalKey != "" || ref.DurablePending {
			t.Fatalf("ref = %+v, want durable only", ref)
		}
		if ref.Width != 1280 || ref.Height != 720 {
			t.Fatalf("dimensions = %dx%d, want 1280x720", ref.Width, ref.Height)
		}
	}
	if durable.count() != 2 {
		t.Fatalf("uploads = %d, want 2", durable.count())
	}
	if scratch.count() != 0 {
		t.Fatalf("scratch files = %d, want 0 after durable success", scratch.count())
	}

	job, err := reg.Get("models/veo/operations/op-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusFinished || job.Progress != 100 {
		t.Fatalf("job = %s/%d, want finished/100", job.Status, job.Progress)
	}
	if job.CompletedAt.IsZero() {
		t.Fatalf("completed_at not set")
	}
}

func TestPersistFallsBackToLocalOnUploadFailure(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusRendering)
	scratch := newMemScratch()
	durable := &fakeDurable{err: errors.New("bucket down")}
	p := New(Options{
		Source:   &fakeSource{status: succeededStatus(1), data: []byte("mp4")},
		Scratch:  scratch,
		Durable:  durable,
		Registry: reg,
	})

	refs, err := p.Persist(context.Background(), "models/veo/operations/op-1")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1", len(refs))
	}
	if refs[0].LocalKey == "" || !refs[0].DurablePending || refs[0].DurableURL != "" {
		t.Fatalf("ref = %+v, want pending local fallback", refs[0])
	}
	if scratch.count() != 1 {
		t.Fatalf("scratch files = %d, want retained copy", scratch.count())
	}

	job, err := reg.Get("models/veo/operations/op-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusFinished {
		t.Fatalf("status = %s, upload failure must not fail the job", job.Status)
	}
	if job.Warning == "" {
		t.Fatalf("expected a recorded upload warning")
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusRendering)
	durable := &fakeDurable{}
	p := New(Options{
		Source:   &fakeSource{status: succeededStatus(1), data: []byte("mp4")},
		Scratch:  newMemScratch(),
		Durable:  durable,
		Registry: reg,
	})

	first, err := p.Persist(context.Background(), "models/veo/operations/op-1")
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	second, err := p.Persist(context.Background(), "models/veo/operations/op-1")
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if durable.count() != 1 {
		t.Fatalf("uploads = %d, second persist must not upload again", durable.count())
	}
	if len(first) != len(second) || first[0].DurableURL != second[0].DurableURL {
		t.Fatalf("references differ between calls: %+v vs %+v", first, second)
	}
}

func TestPersistRequiresProviderSuccess(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusProcessing)
	p := New(Options{
		Source:   &fakeSource{status: video.StatusResult{State: video.StateRunning, Progress: 40}},
		Scratch:  newMemScratch(),
		Durable:  &fakeDurable{},
		Registry: reg,
	})

	if _, err := p.Persist(context.Background(), "models/veo/operations/op-1"); !errors.Is(err, domain.ErrNotFinished) {
		t.Fatalf("err = %v, want ErrNotFinished", err)
	}
	job, err := reg.Get("models/veo/operations/op-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, early persist must not change state", job.Status)
	}
}

func TestPersistMarksJobFailedOnDownloadError(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusRendering)
	p := New(Options{
		Source: &fakeSource{
			status:   succeededStatus(1),
			fetchErr: fmt.Errorf("video: 3 download attempts failed: %w", domain.ErrDownloadFailed),
		},
		Scratch:  newMemScratch(),
		Durable:  &fakeDurable{},
		Registry: reg,
	})

	if _, err := p.Persist(context.Background(), "models/veo/operations/op-1"); !errors.Is(err, domain.ErrDownloadFailed) {
		t.Fatalf("err = %v, want ErrDownloadFailed", err)
	}
	job, err := reg.Get("models/veo/operations/op-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.ErrorMsg == "" {
		t.Fatalf("job = %s/%q, want failed with error", job.Status, job.ErrorMsg)
	}
}

func TestReconcilePromotesPendingAssets(t *testing.T) {
	reg := registry.NewMemory()
	seedJob(t, reg, domain.JobStatusRendering)
	scratch := newMemScratch()
	durable := &fakeDurable{err: errors.New("bucket down")}
	p := New(Options{
		Source:   &fakeSource{status: succeededStatus(1), data: []byte("mp4")},
		Scratch:  scratch,
		Durable:  durable,
		Registry: reg,
	})

	if _, err := p.Persist(context.Background(), "models/veo/operations/op-1"); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Storage comes back; reconcile without re-fetching from the provider.
	durable.mu.Lock()
	durable.err = nil
	durable.mu.Unlock()

	promoted, err := p.Reconcile(context.Background(), "models/veo/operations/op-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}
	job, err := reg.Get("models/veo/operations/op-1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ref := job.Assets[0]
	if ref.DurablePending || ref.DurableURL == "" || ref.LocalKey != "" {
		t.Fatalf("ref = %+v, want promoted to durable", ref)
	}
	if job.Warning != "" {
		t.Fatalf("warning = %q, want cleared after reconcile", job.Warning)
	}
	if scratch.count() != 0 {
		t.Fatalf("scratch files = %d, want 0", scratch.count())
	}
}

func TestRemoveLocalReleasesJobGuard(t *testing.T) {
	reg := registry.NewMemory()
	job := seedJob(t, reg, domain.JobStatusRendering)
	p := New(Options{
		Source:   &fakeSource{status: succeededStatus(1), data: []byte("mp4")},
		Scratch:  newMemScratch(),
		Durable:  &fakeDurable{},
		Registry: reg,
	})

	if _, err := p.Persist(context.Background(), job.ID); err != nil {
		t.Fatalf("persist: %v", err)
	}
	p.mu.Lock()
	_, held := p.inflight[job.ID]
	p.mu.Unlock()
	if !held {
		t.Fatalf("expected a guard entry for the active job")
	}

	deleted, err := reg.Delete(job.ID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	p.RemoveLocal(context.Background(), deleted)

	p.mu.Lock()
	_, held = p.inflight[job.ID]
	p.mu.Unlock()
	if held {
		t.Fatalf("guard entry survived job deletion")
	}
}
