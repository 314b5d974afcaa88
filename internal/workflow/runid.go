package workflow

import (
	"strings"

	"github.com/google/uuid"
	"github.com/dans3367/pigeonpost/internal/model"
)

// runIDPrefix marks identifiers issued by this orchestrator. Identifiers
// without it come from the decommissioned scheduling backend and must never
// be fed to Cancel.
const runIDPrefix = "run_"

// RunID is a tagged run identifier. The issuer is decided when the id is
// created or first stored, not inferred later by pattern-matching scattered
// around the codebase; ParseRunID is the single classification point.
type RunID struct {
	Issuer model.RunIssuer
	ID     string
}

// NewRunID issues a fresh orchestrator run id
func NewRunID() RunID {
	return RunID{
		Issuer: model.IssuerOrchestrator,
		ID:     runIDPrefix + uuid.NewString(),
	}
}

// ParseRunID classifies a stored identifier
func ParseRunID(s string) RunID {
	rest, ok := strings.CutPrefix(s, runIDPrefix)
	if !ok {
		return RunID{Issuer: model.IssuerLegacy, ID: s}
	}
	if _, err := uuid.Parse(rest); err != nil {
		return RunID{Issuer: model.IssuerLegacy, ID: s}
	}
	return RunID{Issuer: model.IssuerOrchestrator, ID: s}
}

// Cancellable reports whether this orchestrator can cancel the identified run
func (r RunID) Cancellable() bool {
	return r.Issuer == model.IssuerOrchestrator
}

func (r RunID) String() string {
	return r.ID
}
