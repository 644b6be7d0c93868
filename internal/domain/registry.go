package domain

// JobRegistry defines the in-process store of job records. Job tracking is
// deliberately ephemeral: records do not survive a restart, durable results
// live in object storage only.
type JobRegistry interface {
	// Create records a freshly submitted job.
	Create(job *Job) error
	// Get returns the job if it exists and belongs to userID. Returns
	// ErrNotFound or ErrForbidden otherwise.
	Get(jobID, userID string) (*Job, error)
	// Find returns the job without an ownership check. Internal use only;
	// request handlers must go through Get.
	Find(jobID string) (*Job, error)
	// List returns the caller's jobs sorted by creation time descending,
	// paginated, along with the total count.
	List(userID string, page, limit int) ([]*Job, int, error)
	// Update applies mutate to the stored job. Mutations of terminal jobs
	// are ignored and progress never decreases while the job is active.
	Update(jobID string, mutate func(*Job)) error
	// ReplaceAssets swaps the job's asset references and warning. Unlike
	// Update this is allowed on finished jobs: reconciling a pending
	// durable upload rewrites asset bookkeeping, not lifecycle state.
	ReplaceAssets(jobID string, refs []AssetReference, warning string) error
	// Delete removes the job after an ownership check and returns the
	// removed record.
	Delete(jobID, userID string) (*Job, error)
	// ClearCompleted removes all of the caller's terminal jobs and returns
	// the removed records.
	ClearCompleted(userID string) []*Job
}
