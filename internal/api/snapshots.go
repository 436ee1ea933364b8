package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) createSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := d.Snapshots.CreateSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "create_snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (d Dependencies) listSnapshots(w http.ResponseWriter, r *http.Request) {
	versions, err := d.Snapshots.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "list_snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (d Dependencies) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := d.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (d Dependencies) snapshotIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := d.Snapshots.ValidateIntegrity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "validate_snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type CleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
	KeepMinimum   int `json:"keepMinimum"`
}

func (d Dependencies) cleanupSnapshots(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	result, err := d.Snapshots.CleanupOldSnapshots(r.Context(), req.OlderThanDays, req.KeepMinimum)
	if err != nil {
		d.writeServiceError(w, "cleanup_snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
