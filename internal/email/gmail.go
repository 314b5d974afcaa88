package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dans3367/pigeonpost/internal/config"
)

// GmailSender implements Sender using the Gmail API.
type GmailSender struct {
	service *gmail.Service
}

// NewGmailSender creates a new GmailSender. It expects either a service
// account credentials JSON with domain-wide delegation (impersonating the
// message's From address happens per send), or OAuth2 client credentials with
// a refresh token for the sender mailbox.
func NewGmailSender(ctx context.Context, cfg config.GmailEmailConfig) (*GmailSender, error) {
	if cfg.CredentialsJSON != "" {
		jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
		}
		// Domain-wide delegation impersonates the platform sender mailbox
		jwtConfig.Subject = cfg.SenderAddress

		svc, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to create service: %w", err)
		}
		return &GmailSender{service: svc}, nil
	}

	if cfg.ClientID == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("gmail: credentials JSON or OAuth2 client credentials are required")
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}
	return &GmailSender{service: svc}, nil
}

// Name identifies this provider
func (g *GmailSender) Name() string {
	return "gmail"
}

// Send sends an email via the Gmail API and returns the Gmail message id.
func (g *GmailSender) Send(ctx context.Context, msg Message) (string, error) {
	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildMIME(msg))),
	}
	if len(msg.Tags) > 0 {
		gmailMsg.LabelIds = msg.Tags
	}

	sent, err := g.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: failed to send email: %w", err)
	}
	return sent.Id, nil
}

// buildMIME renders the RFC 2822 message, multipart/alternative when both
// bodies are present.
func buildMIME(msg Message) string {
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
	}

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		boundary := "boundary_pigeonpost_email"
		return strings.Join(append(headers,
			"Content-Type: multipart/alternative; boundary="+boundary,
			"",
			"--"+boundary,
			"Content-Type: text/plain; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.TextBody,
			"",
			"--"+boundary,
			"Content-Type: text/html; charset=UTF-8",
			"Content-Transfer-Encoding: 7bit",
			"",
			msg.HTMLBody,
			"",
			"--"+boundary+"--",
		), "\r\n")
	case msg.HTMLBody != "":
		return strings.Join(append(headers,
			"Content-Type: text/html; charset=UTF-8",
			"",
			msg.HTMLBody,
		), "\r\n")
	default:
		return strings.Join(append(headers,
			"Content-Type: text/plain; charset=UTF-8",
			"",
			msg.TextBody,
		), "\r\n")
	}
}
