package domain

import "errors"

var (
	ErrNotFound         = errors.New("job not found")
	ErrForbidden        = errors.New("forbidden")
	ErrValidation       = errors.New("validation failed")
	ErrNotFinished      = errors.New("job not finished")
	ErrDownloadFailed   = errors.New("asset download failed")
	ErrUploadFailed     = errors.New("durable upload failed")
	ErrPollingExhausted = errors.New("polling exhausted")
)
