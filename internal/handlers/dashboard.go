package handlers

import (
	"context"
	"net/http"

	"perfeval-dashboard/internal/chat"
	"perfeval-dashboard/internal/fuzzy"
	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/services"
	"perfeval-dashboard/internal/workflow"
)

// DashboardState is everything the dashboard renders in one payload.
type DashboardState struct {
	Workflow workflow.Snapshot `json:"workflow"`
	Chat     chat.Snapshot     `json:"chat"`
	Profile  fuzzy.Profile     `json:"profile"`
}

type DashboardHandler struct {
	// ctx outlives individual requests; evaluations and suggestions started
	// here keep running after the 202 is written.
	ctx      context.Context
	workflow *workflow.Controller
	chat     *chat.Session
}

func NewDashboardHandler(ctx context.Context, wf *workflow.Controller, cs *chat.Session) *DashboardHandler {
	return &DashboardHandler{ctx: ctx, workflow: wf, chat: cs}
}

func (h *DashboardHandler) State(w http.ResponseWriter, r *http.Request) {
	snap := h.workflow.Snapshot()
	writeJSON(w, http.StatusOK, DashboardState{
		Workflow: snap,
		Chat:     h.chat.Snapshot(),
		Profile:  fuzzy.ProfileFor(snap.Inputs, snap.Result),
	})
}

func (h *DashboardHandler) UpdateInputs(w http.ResponseWriter, r *http.Request) {
	var patch models.InputsPatch
	if _, err := decodeOptionalJSON(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	snap, err := h.workflow.UpdateInputs(patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Evaluate starts an evaluation of the body's inputs, or of the current form
// inputs when the body is empty. The result arrives on the WebSocket stream.
func (h *DashboardHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var patch models.InputsPatch
	hasBody, err := decodeOptionalJSON(r, &patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if !hasBody {
		err = h.workflow.StartEvaluateCurrent(h.ctx)
	} else {
		var in models.EvaluationInputs
		in, err = completeInputs(patch)
		if err == nil {
			err = services.CheckInputRange(in)
		}
		if err == nil {
			err = h.workflow.StartEvaluate(h.ctx, in)
		}
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.workflow.Snapshot())
}

func (h *DashboardHandler) Suggestion(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.StartSuggestion(h.ctx); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.workflow.Snapshot())
}

func (h *DashboardHandler) Report(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.ExportReport(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.workflow.Snapshot())
}

// completeInputs requires all three fields; evaluations are never sent with
// a partial triple.
func completeInputs(p models.InputsPatch) (models.EvaluationInputs, error) {
	missing := map[string]string{}
	if p.Attendance == nil {
		missing["attendance"] = "is required"
	}
	if p.TestScore == nil {
		missing["test_score"] = "is required"
	}
	if p.AssignmentScore == nil {
		missing["assignment_score"] = "is required"
	}
	if len(missing) > 0 {
		return models.EvaluationInputs{}, &services.ValidationError{Fields: missing}
	}
	return models.EvaluationInputs{
		Attendance:      *p.Attendance,
		TestScore:       *p.TestScore,
		AssignmentScore: *p.AssignmentScore,
	}, nil
}
