package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/config"
)

// SMTPSender implements Sender over a plain SMTP relay. It is the fallback
// provider and deliberately shares no infrastructure with the Gmail path.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	// send is swappable in tests
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(cfg config.SMTPEmailConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
		send: smtp.SendMail,
	}
}

// Name identifies this provider
func (s *SMTPSender) Name() string {
	return "smtp"
}

// Send sends an email over SMTP. SMTP assigns no message id on the wire, so
// one is generated locally; it still uniquely identifies the accepted send.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.send(s.addr, s.auth, msg.From, []string{msg.To}, []byte(buildMIME(msg))); err != nil {
		return "", fmt.Errorf("smtp: failed to send email: %w", err)
	}
	return "smtp-" + uuid.NewString(), nil
}
