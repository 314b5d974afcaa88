package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/callback"
	"github.com/dans3367/pigeonpost/internal/model"
	"github.com/dans3367/pigeonpost/internal/repository"
)

// ReconcileEmail handles POST /internal/v1/emails/reconcile. Reconciliation
// is idempotent: only a pending intent transitions, so a retried callback for
// an already-settled intent is a no-op success.
func (h *Handler) ReconcileEmail(w http.ResponseWriter, r *http.Request) {
	var req callback.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.EmailTrackingID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "emailTrackingId is required")
		return
	}

	var provider, messageID *string
	if req.Provider != "" {
		provider = &req.Provider
	}
	if req.ProviderMessageID != "" {
		messageID = &req.ProviderMessageID
	}
	err := h.intents.Reconcile(r.Context(), req.EmailTrackingID, model.IntentStatus(req.Status), provider, messageID)
	if errors.Is(err, repository.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "validation_error", "status must be sent (with a provider message id) or failed")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", req.EmailTrackingID).Msg("failed to reconcile intent")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reconcile intent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AppendActivity handles POST /internal/v1/activities. Entries are keyed by
// webhookId; a replay of the same callback inserts nothing.
func (h *Handler) AppendActivity(w http.ResponseWriter, r *http.Request) {
	var req callback.ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.TenantID == "" || req.ContactID == "" || req.ActivityType == "" || req.WebhookID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "tenantId, contactId, activityType and webhookId are required")
		return
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now()
	}

	inserted, err := h.activityLog.Append(r.Context(), &model.EmailActivityLogEntry{
		ID:           "act_" + uuid.NewString(),
		TenantID:     req.TenantID,
		ContactID:    req.ContactID,
		ActivityType: req.ActivityType,
		ActivityData: req.ActivityData,
		WebhookID:    req.WebhookID,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		h.log.Error().Err(err).Str("webhook_id", req.WebhookID).Msg("failed to append activity")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to append activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"inserted": inserted})
}
