// Package registry keeps job records in process memory. The store is
// intentionally ephemeral: a restart loses job tracking while finished assets
// remain in object storage.
package registry

import (
	"sort"
	"sync"

	"server/internal/domain"
)

// Memory implements domain.JobRegistry with a mutex-guarded map so tests can
// run an isolated instance per case instead of sharing ambient state.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewMemory constructs an empty registry.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

// Create records a freshly submitted job.
func (m *Memory) Create(job *domain.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns the caller's job. Ownership is checked on every read, not just
// at creation.
func (m *Memory) Get(jobID, userID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return job.Clone(), nil
}

// Find returns the job without an ownership check.
func (m *Memory) Find(jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// List filters by owner, sorts by creation time descending and paginates.
// The result is a snapshot taken under the lock, so it is stable under
// concurrent inserts.
func (m *Memory) List(userID string, page, limit int) ([]*domain.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	m.mu.Lock()
	owned := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.UserID == userID {
			owned = append(owned, job.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Job{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return owned[start:end], total, nil
}

// Update applies mutate to the stored job. Terminal jobs accept no further
// mutation and progress never decreases while the job is active.
func (m *Memory) Update(jobID string, mutate func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	prevProgress := job.Progress
	mutate(job)
	if !job.Status.Terminal() && job.Progress < prevProgress {
		job.Progress = prevProgress
	}
	return nil
}

// ReplaceAssets swaps the asset references and warning of an existing job.
// Permitted on finished jobs so reconciliation can promote local copies to
// durable storage after the fact.
func (m *Memory) ReplaceAssets(jobID string, refs []domain.AssetReference, warning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Assets = append([]domain.AssetReference(nil), refs...)
	job.Warning = warning
	return nil
}

// Delete removes the job after an ownership check and returns the removed
// record so the caller can clean up local artifacts.
func (m *Memory) Delete(jobID, userID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	delete(m.jobs, jobID)
	return job, nil
}

// ClearCompleted removes all of the caller's terminal jobs.
func (m *Memory) ClearCompleted(userID string) []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*domain.Job
	for id, job := range m.jobs {
		if job.UserID == userID && job.Status.Terminal() {
			removed = append(removed, job)
			delete(m.jobs, id)
		}
	}
	return removed
}

var _ domain.JobRegistry = (*Memory)(nil)
