package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dans3367/pigeonpost/internal/schedule"
)

// CreateReminder handles POST /api/v1/reminders
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req schedule.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.TenantID == "" || req.RelatedEntityID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "tenantId and relatedEntityId are required")
		return
	}
	if req.ScheduledFor.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_error", "scheduledFor is required")
		return
	}
	if req.Send.Recipient.Email == "" || req.Send.From == "" || req.Send.Subject == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "send.recipient.email, send.from and send.subject are required")
		return
	}

	task, err := h.registry.Schedule(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Str("entity_id", req.RelatedEntityID).Msg("failed to schedule reminder")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to schedule reminder")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// RescheduleRequest asks to cancel an entity's pending reminders after its
// schedule changed
type RescheduleRequest struct {
	RelatedEntityID string `json:"relatedEntityId"`
}

// RescheduleReminders handles POST /api/v1/reminders/reschedule
func (h *Handler) RescheduleReminders(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.RelatedEntityID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "relatedEntityId is required")
		return
	}

	cancelled, err := h.registry.Reschedule(r.Context(), req.RelatedEntityID)
	if err != nil {
		h.log.Error().Err(err).Str("entity_id", req.RelatedEntityID).Msg("failed to reschedule reminders")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reschedule reminders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}
