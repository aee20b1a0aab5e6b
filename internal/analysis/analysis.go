// Package analysis defines the compliance workflows run by the engine.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/internal/synthesis"
	"github.com/JaimeStill/compass/internal/workflows"
)

// Workflow types.
const (
	TypeFeatureAnalysis  = "feature_analysis"
	TypeIterationCleanup = "iteration_cleanup"
)

// ProviderSource selects the providers a search fans out to.
type ProviderSource interface {
	ForJurisdictions(jurisdictions []string) []providers.Provider
}

// ResultStore removes archived results.
type ResultStore interface {
	Delete(ctx context.Context, id uuid.UUID) error
}

// InstanceFinder loads earlier workflow instances.
type InstanceFinder interface {
	Find(ctx context.Context, id uuid.UUID) (*workflows.Instance, error)
}

// Search tunes the provider fan-out.
type Search struct {
	MaxResults   int
	Threshold    float64
	TaskTimeout  time.Duration
	Retries      int
	RoundTimeout time.Duration
	Policy       dispatch.Policy
}

// Deps are the collaborators the workflow steps call.
type Deps struct {
	Providers   ProviderSource
	Synthesizer synthesis.Synthesizer
	Results     ResultStore
	Workflows   InstanceFinder
	Search      Search
}

// Definitions returns every workflow this package provides.
func Definitions(d Deps) []*engine.Definition {
	return []*engine.Definition{
		FeatureAnalysis(d),
		IterationCleanup(d),
	}
}

// transient marks synthesis failures that deserve another attempt.
func transient(err error) error {
	if errors.Is(err, synthesis.ErrTransient) || errors.Is(err, synthesis.ErrInvalidOutput) {
		return fmt.Errorf("%w: %w", engine.ErrTransient, err)
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrValidation, fmt.Sprintf(format, args...))
}
