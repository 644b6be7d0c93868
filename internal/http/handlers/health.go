package handlers

import "net/http"

// Health reports liveness. No collaborators are probed: job state lives in
// process memory and a storage outage degrades to the local fallback rather
// than taking the service down.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "videogen-api",
	})
}
