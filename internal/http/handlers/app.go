// Package handlers contains the REST handlers for the video generation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/providers/video"
)

// SubmitClient starts generation jobs on the remote provider.
type SubmitClient interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (video.SubmitResult, error)
	Model() string
}

// JobTracker manages the per-job polling loops.
type JobTracker interface {
	Track(jobID string)
	Stop(jobID string)
}

// AssetPersister moves finished assets into storage and cleans local copies.
type AssetPersister interface {
	Persist(ctx context.Context, jobID string) ([]domain.AssetReference, error)
	RemoveLocal(ctx context.Context, job *domain.Job)
}

// App bundles handler dependencies.
type App struct {
	Logger   infra.Logger
	Registry domain.JobRegistry
	Provider SubmitClient
	Poller   JobTracker
	Pipeline AssetPersister
	Metrics  infra.Metrics
	// StaticBaseURL prefixes local scratch keys so fallback copies resolve
	// over HTTP, e.g. "/static".
	StaticBaseURL string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError translates sentinel and provider errors into the response
// envelope. Unrecognized errors become a 500.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var provErr *video.ProviderError
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
	case errors.Is(err, domain.ErrNotFinished):
		a.error(w, http.StatusConflict, "not_finished", "job has not finished yet")
	case errors.Is(err, domain.ErrDownloadFailed), errors.Is(err, domain.ErrUploadFailed):
		a.error(w, http.StatusBadGateway, "provider_internal", err.Error())
	case errors.As(err, &provErr):
		a.error(w, http.StatusBadGateway, string(provErr.Code), provErr.Message)
	default:
		a.Logger.Error().Err(err).Msg("handlers: unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
