package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntentIDDeterministic(t *testing.T) {
	a := intentID("run_1", "user@example.com")
	b := intentID("run_1", "user@example.com")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "intent_"))
}

func TestIntentIDDistinctPerRunAndRecipient(t *testing.T) {
	base := intentID("run_1", "user@example.com")
	assert.NotEqual(t, base, intentID("run_2", "user@example.com"))
	assert.NotEqual(t, base, intentID("run_1", "other@example.com"))
}

func TestWebhookIDDeterministicPerStatus(t *testing.T) {
	id := intentID("run_1", "user@example.com")
	sent := webhookID(id, "sent")
	assert.Equal(t, sent, webhookID(id, "sent"))
	assert.True(t, strings.HasPrefix(sent, "wh_"))
	// A failed callback for the same intent must not collide with the sent one
	assert.NotEqual(t, sent, webhookID(id, "failed"))
}
