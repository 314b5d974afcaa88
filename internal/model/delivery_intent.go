package model

import "time"

// IntentStatus is the lifecycle state of a DeliveryIntent
type IntentStatus string

// Intent statuses
const (
	IntentStatusPending IntentStatus = "pending"
	IntentStatusSent    IntentStatus = "sent"
	IntentStatusFailed  IntentStatus = "failed"
)

// EmailCategory classifies an outgoing email
type EmailCategory string

// Email categories
const (
	CategoryNewsletter    EmailCategory = "newsletter"
	CategoryBirthday      EmailCategory = "birthday"
	CategoryReminder      EmailCategory = "reminder"
	CategoryCampaign      EmailCategory = "campaign"
	CategoryTransactional EmailCategory = "transactional"
)

// DeliveryIntent is the idempotency anchor for a single send. It is written
// with status pending strictly before the network send is attempted, and
// transitions to sent or failed exactly once via reconciliation. An intent
// stuck in pending past the grace window is the crash-detection signal.
type DeliveryIntent struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenantId"`
	Recipient         string        `json:"recipient"`
	Sender            string        `json:"sender"`
	Subject           string        `json:"subject"`
	HTMLBody          string        `json:"htmlBody"`
	TextBody          string        `json:"textBody"`
	Category          EmailCategory `json:"category"`
	Status            IntentStatus  `json:"status"`
	Provider          *string       `json:"provider,omitempty"`
	ProviderMessageID *string       `json:"providerMessageId,omitempty"`
	RelatedEntityID   *string       `json:"relatedEntityId,omitempty"`
	RunID             string        `json:"runId"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// RequeueSafe reports whether re-sending this intent after a crash cannot
// meaningfully harm the recipient. Only reminder mail qualifies; a duplicate
// newsletter or birthday card is user-visible noise.
func (d *DeliveryIntent) RequeueSafe() bool {
	return d.Category == CategoryReminder
}
