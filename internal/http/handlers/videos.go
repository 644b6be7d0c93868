package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/providers/video"
)

type videoGenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Resolution  string `json:"resolution"`
	Duration    int    `json:"duration"`
	Variants    int    `json:"variants"`
}

// VideosGenerate validates the request, submits it to the provider, records
// the job and starts its polling loop.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}
	if req.Resolution == "" {
		req.Resolution = "720p"
	}
	if req.Duration == 0 {
		req.Duration = 8
	}
	if req.Variants == 0 {
		req.Variants = 1
	}
	genReq := domain.GenerationRequest{
		UserID:          userID,
		Prompt:          strings.TrimSpace(req.Prompt),
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		DurationSeconds: req.Duration,
		Variants:        req.Variants,
	}

	result, err := a.Provider.Submit(r.Context(), genReq)
	if err != nil {
		a.domainError(w, err)
		return
	}

	job := &domain.Job{
		ID:        result.JobID,
		UserID:    userID,
		Request:   genReq,
		Status:    result.Status,
		Stage:     domain.StageFor(result.Status),
		Progress:  domain.ProgressFor(result.Status, -1),
		CreatedAt: time.Now(),
	}
	if err := a.Registry.Create(job); err != nil {
		a.domainError(w, err)
		return
	}
	a.Poller.Track(job.ID)
	a.Metrics.IncJobSubmitted()
	a.Logger.Info().Str("job_id", job.ID).Str("user_id", userID).Msg("handlers: video job submitted")

	a.json(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"stage":    job.Stage,
	})
}

// VideoStatus reports the caller's view of one job.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := jobIDParam(r)
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Registry.Get(jobID, userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
		"stage":    job.Stage,
		"data":     a.jobView(job),
	})
}

// VideoDownload runs the persistence pipeline if it has not run yet and
// returns the asset location. Finished jobs return their cached reference.
func (a *App) VideoDownload(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := jobIDParam(r)
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if _, err := a.Registry.Get(jobID, userID); err != nil {
		a.domainError(w, err)
		return
	}
	refs, err := a.Pipeline.Persist(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if len(refs) == 0 {
		a.error(w, http.StatusBadGateway, "provider_internal", "job finished without assets")
		return
	}
	primary := refs[0]
	a.json(w, http.StatusOK, map[string]any{
		"video_url":   a.assetURL(primary),
		"durable_url": primary.DurableURL,
		"filename":    primary.Filename,
	})
}

// VideoHistory lists the caller's jobs, newest first.
func (a *App) VideoHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)
	jobs, total, err := a.Registry.List(userID, page, limit)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, a.jobView(job))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// VideoDelete stops the job's polling loop, removes the record and
// best-effort deletes locally cached artifacts.
func (a *App) VideoDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := jobIDParam(r)
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if _, err := a.Registry.Get(jobID, userID); err != nil {
		a.domainError(w, err)
		return
	}
	// Stop the loop before removing the record so a late poll cannot race
	// a deleted job.
	a.Poller.Stop(jobID)
	job, err := a.Registry.Delete(jobID, userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.Pipeline.RemoveLocal(r.Context(), job)
	a.Logger.Info().Str("job_id", jobID).Str("user_id", userID).Msg("handlers: video job deleted")
	a.json(w, http.StatusOK, map[string]any{"deleted": true, "job_id": jobID})
}

// VideosClearCompleted bulk-removes the caller's terminal jobs.
func (a *App) VideosClearCompleted(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	removed := a.Registry.ClearCompleted(userID)
	for _, job := range removed {
		a.Poller.Stop(job.ID)
		a.Pipeline.RemoveLocal(r.Context(), job)
	}
	a.json(w, http.StatusOK, map[string]any{"removed": len(removed)})
}

// VideoConfig serves the static capability table.
func (a *App) VideoConfig(w http.ResponseWriter, r *http.Request) {
	caps := video.SupportedCapabilities()
	a.json(w, http.StatusOK, map[string]any{
		"model":             a.Provider.Model(),
		"aspect_ratios":     caps.AspectRatios,
		"resolutions":       caps.Resolutions,
		"durations":         caps.Durations,
		"max_variants":      caps.MaxVariants,
		"max_prompt_length": caps.MaxPromptLength,
	})
}

func (a *App) jobView(job *domain.Job) map[string]any {
	assets := make([]map[string]any, 0, len(job.Assets))
	for _, ref := range job.Assets {
		assets = append(assets, map[string]any{
			"filename":    ref.Filename,
			"video_url":   a.assetURL(ref),
			"durable_url": ref.DurableURL,
			"bytes":       ref.Bytes,
			"width":       ref.Width,
			"height":      ref.Height,
			"duration":    ref.DurationSeconds,
		})
	}
	view := map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"stage":        job.Stage,
		"progress":     job.Progress,
		"prompt":       job.Request.Prompt,
		"aspect_ratio": job.Request.AspectRatio,
		"resolution":   job.Request.Resolution,
		"duration":     job.Request.DurationSeconds,
		"variants":     job.Request.Variants,
		"assets":       assets,
		"created_at":   job.CreatedAt,
	}
	if job.ErrorMsg != "" {
		view["error"] = job.ErrorMsg
	}
	if job.Warning != "" {
		view["warning"] = job.Warning
	}
	if !job.CompletedAt.IsZero() {
		view["completed_at"] = job.CompletedAt
	}
	return view
}

// assetURL prefers the durable URL and falls back to the static route for
// locally cached copies.
func (a *App) assetURL(ref domain.AssetReference) string {
	if ref.DurableURL != "" {
		return ref.DurableURL
	}
	if ref.LocalKey == "" {
		return ""
	}
	base := strings.TrimRight(a.StaticBaseURL, "/")
	if base == "" {
		base = "/static"
	}
	return base + "/" + strings.TrimLeft(ref.LocalKey, "/")
}

// jobIDParam reads the job id from the route. Provider operation names
// contain slashes, so routes bind them as a trailing wildcard.
func jobIDParam(r *http.Request) string {
	if v := chi.URLParam(r, "job_id"); v != "" {
		return v
	}
	return chi.URLParam(r, "*")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
