package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dans3367/pigeonpost/internal/logger"
)

type fakeSender struct {
	name      string
	messageID string
	err       error
	calls     int
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, msg Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.messageID, nil
}

func validMessage() Message {
	return Message{
		From:     "noreply@example.com",
		To:       "user@example.com",
		Subject:  "Hello",
		TextBody: "Hi there",
	}
}

func TestGatewayPrimarySucceeds(t *testing.T) {
	primary := &fakeSender{name: "gmail", messageID: "m-1"}
	secondary := &fakeSender{name: "smtp", messageID: "m-2"}
	g := NewGateway(primary, secondary, logger.New("error", "text"))

	result, err := g.Send(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, "gmail", result.Provider)
	assert.Equal(t, "m-1", result.MessageID)
	assert.Equal(t, 0, secondary.calls)
}

func TestGatewayFailsOverOnce(t *testing.T) {
	primary := &fakeSender{name: "gmail", err: errors.New("quota exceeded")}
	secondary := &fakeSender{name: "smtp", messageID: "m-2"}
	g := NewGateway(primary, secondary, logger.New("error", "text"))

	result, err := g.Send(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, "smtp", result.Provider)
	assert.Equal(t, "m-2", result.MessageID)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestGatewayBothProvidersFail(t *testing.T) {
	primary := &fakeSender{name: "gmail", err: errors.New("quota exceeded")}
	smtpErr := errors.New("connection refused")
	secondary := &fakeSender{name: "smtp", err: smtpErr}
	g := NewGateway(primary, secondary, logger.New("error", "text"))

	_, err := g.Send(context.Background(), validMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, smtpErr)
	assert.Contains(t, err.Error(), "both providers failed")
}

func TestGatewayValidationFailureNeverFailsOver(t *testing.T) {
	primary := &fakeSender{name: "gmail"}
	secondary := &fakeSender{name: "smtp"}
	g := NewGateway(primary, secondary, logger.New("error", "text"))

	msg := validMessage()
	msg.To = ""
	_, err := g.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestGatewayNoSecondary(t *testing.T) {
	sendErr := errors.New("quota exceeded")
	primary := &fakeSender{name: "gmail", err: sendErr}
	g := NewGateway(primary, nil, logger.New("error", "text"))

	_, err := g.Send(context.Background(), validMessage())
	assert.ErrorIs(t, err, sendErr)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
		ok     bool
	}{
		{"valid", func(m *Message) {}, true},
		{"html only", func(m *Message) { m.TextBody = ""; m.HTMLBody = "<p>hi</p>" }, true},
		{"missing recipient", func(m *Message) { m.To = "" }, false},
		{"missing sender", func(m *Message) { m.From = "  " }, false},
		{"missing subject", func(m *Message) { m.Subject = "" }, false},
		{"missing body", func(m *Message) { m.TextBody = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestBuildMIMEMultipart(t *testing.T) {
	msg := validMessage()
	msg.FromName = "Pigeonpost"
	msg.HTMLBody = "<p>hi</p>"

	mime := buildMIME(msg)
	assert.Contains(t, mime, "From: Pigeonpost <noreply@example.com>")
	assert.Contains(t, mime, "Content-Type: multipart/alternative")
	assert.Contains(t, mime, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, mime, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, mime, msg.TextBody)
	assert.Contains(t, mime, msg.HTMLBody)
}
