package analysis

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/internal/synthesis"
)

// Review prompt for feature analysis.
const (
	ReviewQuestion = "Approve compliance assessment?"
	ReviewApprove  = "APPROVE"
	ReviewReject   = "REJECT"
	// AutoApproved is recorded when no human review was needed.
	AutoApproved = "AUTO_APPROVED"
)

// FeatureInput is the input of a feature_analysis workflow.
type FeatureInput struct {
	FeatureName   string   `json:"feature_name"`
	Description   string   `json:"description"`
	Document      string   `json:"document,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	RequireReview bool     `json:"require_review,omitempty"`
}

func (in FeatureInput) feature() synthesis.Feature {
	return synthesis.Feature{
		Name:        in.FeatureName,
		Description: in.Description,
		Document:    in.Document,
	}
}

// ReviewOutcome records how the assessment was approved.
type ReviewOutcome struct {
	Required bool   `json:"required"`
	Decision string `json:"decision"`
}

// Report is the result of a completed feature_analysis workflow.
type Report struct {
	Feature    synthesis.Feature    `json:"feature"`
	Assessment synthesis.Assessment `json:"assessment"`
	Review     ReviewOutcome        `json:"review"`
	Approved   bool                 `json:"approved"`
	Summary    string               `json:"summary"`
	Actions    []string             `json:"actions"`
	Succeeded  []string             `json:"succeeded_providers"`
	Failed     []string             `json:"failed_providers"`
}

type featureSteps struct {
	deps Deps
}

// FeatureAnalysis searches the configured providers for a feature, has the
// results assessed, optionally asks a human to approve, and reports.
func FeatureAnalysis(d Deps) *engine.Definition {
	s := &featureSteps{deps: d}
	return &engine.Definition{
		Type:         TypeFeatureAnalysis,
		Policy:       d.Search.Policy,
		RoundTimeout: d.Search.RoundTimeout,
		Steps: []engine.Step{
			{Name: "validate", Run: s.validate},
			{Name: "search", Run: s.search},
			{Name: "synthesize", Run: s.synthesize},
			{Name: "review", Run: s.review},
			{Name: "finalize", Run: s.finalize},
		},
	}
}

func (s *featureSteps) validate(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	var in FeatureInput
	if err := sc.DecodeInput(&in); err != nil {
		return engine.Outcome{}, err
	}

	in.FeatureName = strings.TrimSpace(in.FeatureName)
	in.Description = strings.TrimSpace(in.Description)
	if in.FeatureName == "" {
		return engine.Outcome{}, invalid("feature_name is required")
	}
	if in.Description == "" && in.Document == "" {
		return engine.Outcome{}, invalid("description or document is required")
	}

	if len(s.deps.Providers.ForJurisdictions(in.Jurisdictions)) == 0 {
		return engine.Outcome{}, invalid("no providers serve jurisdictions %v", in.Jurisdictions)
	}

	return engine.Next(in), nil
}

func (s *featureSteps) input(sc *engine.StepContext) (FeatureInput, error) {
	var in FeatureInput
	ok, err := sc.Output("validate", &in)
	if err != nil {
		return in, err
	}
	if !ok {
		return in, fmt.Errorf("validate output missing")
	}
	return in, nil
}

func (s *featureSteps) search(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	in, err := s.input(sc)
	if err != nil {
		return engine.Outcome{}, err
	}

	query := in.FeatureName
	if in.Description != "" {
		query += ": " + in.Description
	}

	req, err := marshal(providers.SearchRequest{
		Query:               query,
		Context:             in.Document,
		MaxResults:          s.deps.Search.MaxResults,
		SimilarityThreshold: s.deps.Search.Threshold,
	})
	if err != nil {
		return engine.Outcome{}, err
	}

	targets := s.deps.Providers.ForJurisdictions(in.Jurisdictions)
	tasks := make([]dispatch.Task, len(targets))
	for i, p := range targets {
		tasks[i] = dispatch.Task{
			ProviderID:       p.ID,
			Request:          req,
			Timeout:          s.deps.Search.TaskTimeout,
			RetriesRemaining: s.deps.Search.Retries,
		}
	}
	return engine.FanOut(tasks), nil
}

func (s *featureSteps) synthesize(ctx context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	in, err := s.input(sc)
	if err != nil {
		return engine.Outcome{}, err
	}

	var found dispatch.StepResult
	if _, err := sc.Output("search", &found); err != nil {
		return engine.Outcome{}, err
	}

	evidence, err := collectEvidence(found)
	if err != nil {
		return engine.Outcome{}, err
	}

	a, err := s.deps.Synthesizer.Assess(ctx, synthesis.Request{
		Feature:  in.feature(),
		Evidence: evidence,
	})
	if err != nil {
		return engine.Outcome{}, transient(err)
	}
	return engine.Next(a), nil
}

func (s *featureSteps) assessment(sc *engine.StepContext) (synthesis.Assessment, error) {
	var a synthesis.Assessment
	if _, err := sc.Output("synthesize", &a); err != nil {
		return a, err
	}
	return a, nil
}

func (s *featureSteps) review(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	in, err := s.input(sc)
	if err != nil {
		return engine.Outcome{}, err
	}
	a, err := s.assessment(sc)
	if err != nil {
		return engine.Outcome{}, err
	}

	if !in.RequireReview && !a.NeedsReview {
		return engine.Next(ReviewOutcome{Decision: AutoApproved}), nil
	}

	if decision, ok := sc.Response(); ok {
		return engine.Next(ReviewOutcome{Required: true, Decision: decision}), nil
	}

	return engine.Suspend(hitl.Request{
		Question: ReviewQuestion,
		Options:  []string{ReviewApprove, ReviewReject},
		Context: map[string]any{
			"feature_name":        in.FeatureName,
			"requires_compliance": a.RequiresCompliance,
			"jurisdictions":       a.Jurisdictions,
			"risk_level":          a.RiskLevel,
			"confidence":          a.Confidence,
			"rationale":           a.Rationale,
		},
	}), nil
}

func (s *featureSteps) finalize(ctx context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	in, err := s.input(sc)
	if err != nil {
		return engine.Outcome{}, err
	}
	a, err := s.assessment(sc)
	if err != nil {
		return engine.Outcome{}, err
	}

	var rev ReviewOutcome
	if _, err := sc.Output("review", &rev); err != nil {
		return engine.Outcome{}, err
	}
	var found dispatch.StepResult
	if _, err := sc.Output("search", &found); err != nil {
		return engine.Outcome{}, err
	}

	decision := ""
	if rev.Required {
		decision = rev.Decision
	}

	sum, err := s.deps.Synthesizer.Summarize(ctx, synthesis.SummaryRequest{
		Feature:    in.feature(),
		Assessment: a,
		Decision:   decision,
	})
	if err != nil {
		return engine.Outcome{}, transient(err)
	}

	return engine.Next(Report{
		Feature:    in.feature(),
		Assessment: a,
		Review:     rev,
		Approved:   rev.Decision != ReviewReject,
		Summary:    sum.Summary,
		Actions:    sum.Actions,
		Succeeded:  found.Succeeded,
		Failed:     found.Failed,
	}), nil
}

// collectEvidence flattens provider payloads into passages ordered by
// relevance.
func collectEvidence(found dispatch.StepResult) ([]synthesis.Evidence, error) {
	var evidence []synthesis.Evidence
	for _, pr := range found.Payload {
		resp, err := providers.Decode(pr.Data)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pr.ProviderID, err)
		}
		for _, r := range resp.Results {
			evidence = append(evidence, synthesis.Evidence{
				ProviderID:     pr.ProviderID,
				Jurisdiction:   resp.Jurisdiction,
				SourceDocument: r.SourceDocument,
				Content:        r.Content,
				RelevanceScore: r.RelevanceScore,
			})
		}
	}

	slices.SortStableFunc(evidence, func(a, b synthesis.Evidence) int {
		switch {
		case a.RelevanceScore > b.RelevanceScore:
			return -1
		case a.RelevanceScore < b.RelevanceScore:
			return 1
		}
		return 0
	})
	return evidence, nil
}
