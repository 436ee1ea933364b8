package api

import (
	"net/http"

	"flowtrack/internal/service"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) startComponent(w http.ResponseWriter, r *http.Request) {
	result, err := d.Engine.StartComponent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "componentId"))
	if err != nil {
		d.writeServiceError(w, "start_component", err)
		return
	}
	d.dispatch(r.Context(), result.Facts)
	writeJSON(w, http.StatusOK, result)
}

func (d Dependencies) recordProgress(w http.ResponseWriter, r *http.Request) {
	var req service.RecordInput
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	req.ComponentProgressID = chi.URLParam(r, "id")

	result, err := d.Engine.RecordComponentProgress(r.Context(), req)
	if err != nil {
		d.writeServiceError(w, "record_progress", err)
		return
	}
	d.dispatch(r.Context(), result.Facts)
	writeJSON(w, http.StatusOK, result)
}

func (d Dependencies) getComponentProgress(w http.ResponseWriter, r *http.Request) {
	p, err := d.Engine.GetComponentProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_component_progress", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (d Dependencies) getFlowProgress(w http.ResponseWriter, r *http.Request) {
	view, err := d.Engine.GetFlowProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_flow_progress", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (d Dependencies) unlockNext(w http.ResponseWriter, r *http.Request) {
	result, err := d.Engine.UnlockNextStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "unlock_next_step", err)
		return
	}
	d.dispatch(r.Context(), result.Facts)
	writeJSON(w, http.StatusOK, result)
}
