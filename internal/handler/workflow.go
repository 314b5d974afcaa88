package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dans3367/pigeonpost/internal/delivery"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

// SubmitWorkflowRequest represents a workflow submission
type SubmitWorkflowRequest struct {
	Type model.WorkflowType `json:"type"`
	// WorkflowID is the caller's logical id and the idempotency key
	WorkflowID string          `json:"workflowId"`
	Input      json.RawMessage `json:"input"`
}

// WorkflowResponse represents the state of a run
type WorkflowResponse struct {
	RunID       string             `json:"runId"`
	WorkflowID  string             `json:"workflowId"`
	Type        model.WorkflowType `json:"type"`
	Status      model.RunStatus    `json:"status"`
	Output      json.RawMessage    `json:"output,omitempty"`
	Error       *string            `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

func runResponse(run *model.WorkflowRun) WorkflowResponse {
	return WorkflowResponse{
		RunID:       run.ID,
		WorkflowID:  run.WorkflowID,
		Type:        run.WorkflowType,
		Status:      run.Status,
		Output:      run.Output,
		Error:       run.LastError,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
}

// SubmitWorkflow handles POST /api/v1/workflows
func (h *Handler) SubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req SubmitWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "workflowId is required")
		return
	}

	input, errMsg := h.validateInput(req.Type, req.Input)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", errMsg)
		return
	}

	run, err := h.engine.Start(r.Context(), req.Type, req.WorkflowID, input)
	if errors.Is(err, workflow.ErrAlreadyExists) {
		// Same logical id resubmitted: report the existing run instead of
		// starting a second one
		writeJSON(w, http.StatusConflict, runResponse(run))
		return
	}
	if errors.Is(err, workflow.ErrNotRegistered) {
		writeError(w, http.StatusBadRequest, "validation_error", "Unknown workflow type")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("workflow_id", req.WorkflowID).Msg("failed to submit workflow")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to submit workflow")
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

// validateInput decodes and checks the type-specific input shape. Returns the
// value to submit and an empty message, or a validation message.
func (h *Handler) validateInput(t model.WorkflowType, raw json.RawMessage) (interface{}, string) {
	switch t {
	case model.WorkflowTypeImmediateSend:
		var in delivery.SendInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, "Invalid input for immediate_send"
		}
		if in.TenantID == "" || in.Recipient.Email == "" || in.From == "" || in.Subject == "" {
			return nil, "tenantId, recipient.email, from and subject are required"
		}
		return in, ""

	case model.WorkflowTypeScheduledSend, model.WorkflowTypeReminder:
		var in delivery.ScheduledInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, "Invalid input for scheduled send"
		}
		if in.TenantID == "" || in.Recipient.Email == "" || in.From == "" || in.Subject == "" {
			return nil, "tenantId, recipient.email, from and subject are required"
		}
		if in.ScheduledFor.IsZero() {
			return nil, "scheduledFor is required"
		}
		return in, ""

	case model.WorkflowTypeBulkSend:
		var in delivery.BulkInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, "Invalid input for bulk_send"
		}
		if in.TenantID == "" || in.From == "" || in.Subject == "" {
			return nil, "tenantId, from and subject are required"
		}
		if len(in.Recipients) == 0 {
			return nil, "recipients must not be empty"
		}
		if in.BatchSize <= 0 {
			in.BatchSize = h.cfg.Delivery.BatchSize
		}
		return in, ""

	default:
		return nil, "Unknown workflow type"
	}
}

// GetWorkflow handles GET /api/v1/workflows/{id}. The id is the caller's
// logical workflow id, not the run id.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Result(r.Context(), r.PathValue("id"))
	if errors.Is(err, workflow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Workflow not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get workflow")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get workflow")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel. The id is the
// stored run id. Ids not issued by this engine come back success=false with a
// reason, not an error.
func (h *Handler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, workflow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Workflow run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to cancel workflow")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to cancel workflow")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
