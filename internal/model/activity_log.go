package model

import (
	"encoding/json"
	"time"
)

// Activity types recorded on a recipient's timeline
const (
	ActivityEmailSent   = "email_sent"
	ActivityEmailFailed = "email_failed"
	ActivityEmailOpened = "email_opened"
)

// EmailActivityLogEntry is one append-only entry on a recipient's timeline.
// WebhookID is the idempotency key: retried reconciliation attempts carrying
// the same WebhookID produce exactly one entry. Entries are never mutated.
type EmailActivityLogEntry struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	ContactID    string          `json:"contactId"`
	ActivityType string          `json:"activityType"`
	ActivityData json.RawMessage `json:"activityData,omitempty"`
	WebhookID    string          `json:"webhookId"`
	OccurredAt   time.Time       `json:"occurredAt"`
	CreatedAt    time.Time       `json:"createdAt"`
}
