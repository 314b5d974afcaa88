package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/dispatch"
	"github.com/dans3367/pigeonpost/internal/model"
)

// SendInput is the payload of an immediate-send run and the per-recipient
// core of the other shapes.
type SendInput struct {
	TenantID        string              `json:"tenantId"`
	Recipient       dispatch.Recipient  `json:"recipient"`
	From            string              `json:"from"`
	FromName        string              `json:"fromName,omitempty"`
	Subject         string              `json:"subject"`
	HTMLBody        string              `json:"htmlBody,omitempty"`
	TextBody        string              `json:"textBody,omitempty"`
	Category        model.EmailCategory `json:"category"`
	RelatedEntityID string              `json:"relatedEntityId,omitempty"`
}

// ScheduledInput is the payload of a scheduled-send or reminder run
type ScheduledInput struct {
	SendInput
	ScheduledFor time.Time `json:"scheduledFor"`
	// ReminderID is set on reminder runs so completion is written back to
	// the ReminderTask
	ReminderID string `json:"reminderId,omitempty"`
}

// BulkInput is the payload of a bulk campaign run
type BulkInput struct {
	TenantID   string               `json:"tenantId"`
	CampaignID string               `json:"campaignId"`
	From       string               `json:"from"`
	FromName   string               `json:"fromName,omitempty"`
	Subject    string               `json:"subject"`
	HTMLBody   string               `json:"htmlBody,omitempty"`
	TextBody   string               `json:"textBody,omitempty"`
	Category   model.EmailCategory  `json:"category"`
	BatchSize  int                  `json:"batchSize,omitempty"`
	Recipients []dispatch.Recipient `json:"recipients"`
}

// SendOutput is the output of single-send runs
type SendOutput struct {
	Status    string `json:"status"`
	Provider  string `json:"provider,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BulkOutput is the output of bulk runs
type BulkOutput struct {
	dispatch.Totals
	Status string `json:"status"`
}

// intentNamespace scopes deterministic intent ids
var intentNamespace = uuid.MustParse("9f2b7a44-6f6e-4d3b-9a83-5a2dd0e7c1af")

// intentID derives the DeliveryIntent id for one recipient of one run.
// Deterministic so that replays and activity retries target the same intent
// instead of minting new ones.
func intentID(runID, email string) string {
	return "intent_" + uuid.NewSHA1(intentNamespace, []byte(runID+"|"+email)).String()
}

// webhookID derives the idempotency key for a reconciliation callback
func webhookID(intentID, status string) string {
	return "wh_" + uuid.NewSHA1(intentNamespace, []byte(intentID+"|"+status)).String()
}
