package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dans3367/pigeonpost/internal/model"
)

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	assert.Equal(t, model.IssuerOrchestrator, id.Issuer)
	assert.True(t, id.Cancellable())

	// Round-trips through storage as a plain string
	parsed := ParseRunID(id.String())
	assert.Equal(t, id, parsed)
}

func TestParseRunID(t *testing.T) {
	tests := []struct {
		name        string
		stored      string
		cancellable bool
	}{
		{"orchestrator id", "run_7b2e9a10-35c4-4cf0-9f3a-2a4f7d9f8e61", true},
		{"legacy numeric id", "8412", false},
		{"legacy opaque id", "sched-2023-04-11-0042", false},
		{"prefix but not a uuid", "run_not-a-uuid", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := ParseRunID(tt.stored)
			assert.Equal(t, tt.cancellable, id.Cancellable())
			assert.Equal(t, tt.stored, id.String())
			if !tt.cancellable {
				assert.Equal(t, model.IssuerLegacy, id.Issuer)
			}
		})
	}
}
