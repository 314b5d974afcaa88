package email

import (
	"context"
	"fmt"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/logger"
)

// NewGatewayFromConfig builds the configured provider pair. The primary is
// required; an empty secondary disables failover.
func NewGatewayFromConfig(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (*Gateway, error) {
	build := func(name string) (Sender, error) {
		switch name {
		case "gmail":
			return NewGmailSender(ctx, cfg.Gmail)
		case "smtp":
			return NewSMTPSender(cfg.SMTP), nil
		case "":
			return nil, nil
		default:
			return nil, fmt.Errorf("unknown email provider %q", name)
		}
	}

	primary, err := build(cfg.Primary)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, fmt.Errorf("email: primary provider is required")
	}
	secondary, err := build(cfg.Secondary)
	if err != nil {
		return nil, err
	}
	return NewGateway(primary, secondary, log), nil
}
