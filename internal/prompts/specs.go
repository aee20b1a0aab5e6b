package prompts

const synthesizeSpec = `Respond with a JSON object matching this exact structure:

{
  "requires_compliance": true,
  "jurisdictions": ["<jurisdiction>"],
  "risk_level": "<HIGH|MEDIUM|LOW>",
  "confidence": 0.0,
  "rationale": "<explanation>",
  "requirements": [
    {"jurisdiction": "<jurisdiction>", "requirement": "<obligation>", "source": "<source_document>"}
  ],
  "needs_review": false
}

Field constraints:
- requires_compliance: true only when at least one law obligates
  geo-specific behavior for this feature.
- jurisdictions: Jurisdictions whose law applies, using the identifiers
  given with the search passages. Empty when requires_compliance is false.
- risk_level: HIGH when non-compliance carries regulatory penalties or
  affects minors, MEDIUM for disclosure or reporting duties, LOW otherwise.
- confidence: Number between 0 and 1 describing how well the passages
  support the decision.
- rationale: Brief explanation citing the passages that drove the decision.
- requirements: One entry per concrete obligation, each naming the
  source_document of the supporting passage.
- needs_review: true when the evidence is insufficient or contradictory.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- Base every requirement on a provided passage
- Never invent jurisdictions that have no supporting passage`

const summarizeSpec = `Respond with a JSON object matching this exact structure:

{
  "summary": "<two or three sentences>",
  "actions": ["<action>"]
}

Field constraints:
- summary: Plain-language outcome of the assessment, mentioning the
  reviewer's decision when one is provided.
- actions: Ordered engineering follow-ups. Empty when no compliance logic
  is required.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing`

var specs = map[Stage]string{
	StageSynthesize: synthesizeSpec,
	StageSummarize:  summarizeSpec,
}

// Spec returns the built-in output specification for a stage.
// Specifications are not overridable. Returns ErrInvalidStage if the stage
// is not recognized.
func Spec(stage Stage) (string, error) {
	text, ok := specs[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}
