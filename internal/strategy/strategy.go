// Package strategy defines fix strategies and the registry that maps issue
// types to ordered candidate strategies.
//
// Strategies are registered as factories keyed by issue type and resolved
// once at startup against shared dependencies (the mutator, a logger). The
// resolved Set is immutable and safe for concurrent use.
package strategy

import (
	"context"

	"github.com/fyrsmithlabs/autofix/internal/issue"
	"github.com/fyrsmithlabs/autofix/internal/mutator"
	"go.uber.org/zap"
)

// Strategy fixes issues of the types it is registered for.
//
// Confidence must be cheap and side-effect free. Apply performs the fix,
// normally through the mutator; a returned error is treated as a failed
// attempt, as is an outcome with Success=false.
type Strategy interface {
	Name() string
	Confidence(ctx context.Context, is issue.Issue) float64
	Apply(ctx context.Context, is issue.Issue) (*issue.FixOutcome, error)
}

// Deps are the collaborators handed to every factory.
type Deps struct {
	Mutator *mutator.Mutator
	Logger  *zap.Logger

	// SmokeTestCommand is run after each mutation when non-empty.
	SmokeTestCommand string
}

// Factory builds a Strategy from shared dependencies.
type Factory func(Deps) (Strategy, error)

// Source yields the ordered candidate strategies for an issue type.
type Source interface {
	Candidates(t issue.Type) []Strategy
}
