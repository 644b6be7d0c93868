package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusRendering   JobStatus = "rendering"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusUploading   JobStatus = "uploading"
	JobStatusFinished    JobStatus = "finished"
	JobStatusFailed      JobStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// GenerationRequest captures the caller's inputs for a video job. It is
// immutable once submitted.
type GenerationRequest struct {
	UserID          string
	Prompt          string
	AspectRatio     string
	Resolution      string
	DurationSeconds int
	Variants        int
}

// Job tracks one generation request from submission to terminal outcome. The
// ID is the provider-issued operation name and is treated as opaque.
type Job struct {
	ID          string
	UserID      string
	Request     GenerationRequest
	Status      JobStatus
	Stage       string
	Progress    int
	Assets      []AssetReference
	ErrorMsg    string
	Warning     string
	PollErrors  int
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Clone returns a copy so registry snapshots cannot be mutated by callers.
func (j *Job) Clone() *Job {
	cp := *j
	if len(j.Assets) > 0 {
		cp.Assets = append([]AssetReference(nil), j.Assets...)
	}
	return &cp
}
