package prompts

import "context"

const synthesizeInstructions = `You are a regulatory compliance analyst assessing whether a product feature triggers geo-specific legal obligations.

You receive the feature description and passages retrieved from jurisdiction-specific legal search services. Each passage names its source document and carries a relevance score. Weigh passages by relevance and by how directly they address the feature's behavior, data handling, and target audience.

Decide whether the feature requires geo-specific compliance logic. Name every jurisdiction whose law plausibly applies and list the concrete requirements each one imposes. Distinguish legal obligations from business-driven geofencing: a regional rollout for market testing is not a compliance requirement.

When the evidence is thin, conflicting, or the passages do not address the feature, say so and request human review rather than guessing.`

const summarizeInstructions = `You are preparing the final compliance record for a product feature.

You receive the feature description, the compliance assessment, and the reviewer's decision when one was made. Produce a short summary a product manager can act on, followed by the concrete follow-up actions engineering must take for each applicable jurisdiction. Do not introduce requirements that are absent from the assessment.`

var instructions = map[Stage]string{
	StageSynthesize: synthesizeInstructions,
	StageSummarize:  summarizeInstructions,
}

// DefaultInstructions returns the built-in instructions for a stage.
// Returns ErrInvalidStage if the stage is not recognized.
func DefaultInstructions(stage Stage) (string, error) {
	text, ok := instructions[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}

// Source resolves the effective text for a stage.
type Source interface {
	Instructions(ctx context.Context, stage Stage) (string, error)
	Spec(ctx context.Context, stage Stage) (string, error)
}

// Defaults is a Source that serves only the built-in text.
type Defaults struct{}

func (Defaults) Instructions(_ context.Context, stage Stage) (string, error) {
	return DefaultInstructions(stage)
}

func (Defaults) Spec(_ context.Context, stage Stage) (string, error) {
	return Spec(stage)
}
