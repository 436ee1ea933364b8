package api

import (
	"net/http"

	"flowtrack/internal/service"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) createFlow(w http.ResponseWriter, r *http.Request) {
	var req service.CreateFlowInput
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	flow, err := d.Editor.CreateFlow(r.Context(), req)
	if err != nil {
		d.writeServiceError(w, "create_flow", err)
		return
	}
	writeJSON(w, http.StatusCreated, flow)
}

func (d Dependencies) getFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := d.Editor.GetFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_flow", err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (d Dependencies) addStep(w http.ResponseWriter, r *http.Request) {
	var req service.StepInput
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	step, err := d.Editor.AddStep(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		d.writeServiceError(w, "add_step", err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (d Dependencies) addComponent(w http.ResponseWriter, r *http.Request) {
	var req service.ComponentInput
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	component, err := d.Editor.AddComponent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		d.writeServiceError(w, "add_component", err)
		return
	}
	writeJSON(w, http.StatusCreated, component)
}

func (d Dependencies) publishFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := d.Editor.PublishFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "publish_flow", err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (d Dependencies) archiveFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := d.Editor.ArchiveFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "archive_flow", err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type ReorderRequest struct {
	Position *int `json:"position"`
}

func (d Dependencies) reorderItem(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decode(r, &req); err != nil || req.Position == nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "position is required", d.Log)
		return
	}

	id := chi.URLParam(r, "id")
	key, err := d.Editor.ReorderSibling(r.Context(), id, *req.Position)
	if err != nil {
		d.writeServiceError(w, "reorder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "orderKey": key})
}
