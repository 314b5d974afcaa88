package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessage marks a validation failure on the caller's input. It is
// never retried and never triggers provider failover.
var ErrInvalidMessage = errors.New("invalid email message")

// Sender is the interface both outbound email providers implement. This
// abstraction is what makes the providers interchangeable behind the gateway.
type Sender interface {
	// Name identifies the provider in intent records and logs
	Name() string
	// Send sends an email and returns the provider-assigned message id
	Send(ctx context.Context, msg Message) (string, error)
}

// Message represents an email message to be sent.
type Message struct {
	From     string            // sender email address
	FromName string            // display name for the sender
	To       string            // recipient email address
	Subject  string            // email subject
	HTMLBody string            // HTML email body
	TextBody string            // plain-text fallback body
	Tags     []string          // provider-side labels (campaign id, category)
	Metadata map[string]string // opaque key/values echoed in provider events
}

// Validate checks the fields the caller is responsible for
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.From) == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: a body is required", ErrInvalidMessage)
	}
	return nil
}
