package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/dans3367/pigeonpost/internal/logger"
)

// Result reports which provider accepted a send and the id it assigned
type Result struct {
	Provider  string `json:"provider"`
	MessageID string `json:"messageId"`
}

// Gateway is the uniform interface over the two interchangeable providers.
// It tries the primary; on any provider-level failure (not a validation
// failure on the caller's input) it falls back to the secondary exactly once
// and returns the secondary's outcome whichever way it goes.
type Gateway struct {
	primary   Sender
	secondary Sender
	log       *logger.Logger
}

// NewGateway creates a new Gateway. secondary may be nil to disable failover.
func NewGateway(primary, secondary Sender, log *logger.Logger) *Gateway {
	return &Gateway{
		primary:   primary,
		secondary: secondary,
		log:       log.WithComponent("email_gateway"),
	}
}

// Primary returns the name of the provider tried first. Concurrency bounds
// are keyed on it, not inside Send.
func (g *Gateway) Primary() string {
	return g.primary.Name()
}

// Send sends one email with failover
func (g *Gateway) Send(ctx context.Context, msg Message) (Result, error) {
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}

	messageID, err := g.primary.Send(ctx, msg)
	if err == nil {
		return Result{Provider: g.primary.Name(), MessageID: messageID}, nil
	}
	if errors.Is(err, ErrInvalidMessage) || g.secondary == nil {
		return Result{}, err
	}

	g.log.Warn().Err(err).
		Str("primary", g.primary.Name()).
		Str("secondary", g.secondary.Name()).
		Str("to", msg.To).
		Msg("primary provider failed, failing over")

	messageID, err = g.secondary.Send(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("both providers failed: %w", err)
	}
	return Result{Provider: g.secondary.Name(), MessageID: messageID}, nil
}
