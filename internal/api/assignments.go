package api

import (
	"context"
	"net/http"

	"flowtrack/internal/auth"
	"flowtrack/internal/model"
	"flowtrack/internal/service"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) assignFlow(w http.ResponseWriter, r *http.Request) {
	var req service.AssignFlowInput
	if err := decode(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	req.AssignedBy = auth.GetUserID(r.Context())

	result, err := d.Assignments.AssignFlow(r.Context(), req)
	if err != nil {
		d.writeServiceError(w, "assign_flow", err)
		return
	}
	d.dispatch(r.Context(), result.Facts)
	writeJSON(w, http.StatusCreated, result)
}

func (d Dependencies) getAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := d.Assignments.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (d Dependencies) listAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := d.Assignments.ListAssignments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "list_assignments", err)
		return
	}
	if list == nil {
		list = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (d Dependencies) assignmentSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := d.Snapshots.GetSnapshotByAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (d Dependencies) assignmentProgress(w http.ResponseWriter, r *http.Request) {
	view, err := d.Engine.GetFlowProgressByAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, "get_flow_progress", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (d Dependencies) cancelAssignment(w http.ResponseWriter, r *http.Request) {
	d.transitionAssignment(w, r, "cancel_assignment", d.Assignments.CancelAssignment)
}

func (d Dependencies) pauseAssignment(w http.ResponseWriter, r *http.Request) {
	d.transitionAssignment(w, r, "pause_assignment", d.Assignments.PauseAssignment)
}

func (d Dependencies) resumeAssignment(w http.ResponseWriter, r *http.Request) {
	d.transitionAssignment(w, r, "resume_assignment", d.Assignments.ResumeAssignment)
}

func (d Dependencies) transitionAssignment(w http.ResponseWriter, r *http.Request, op string, apply func(ctx context.Context, id string) (*model.Assignment, error)) {
	a, err := apply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
