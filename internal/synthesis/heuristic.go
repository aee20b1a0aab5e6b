package synthesis

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Heuristic is a model-free Synthesizer for development and tests. A
// jurisdiction applies when any of its passages scores at or above the
// threshold.
type Heuristic struct {
	Threshold float64
}

func (h Heuristic) Assess(_ context.Context, req Request) (Assessment, error) {
	a := Assessment{
		Jurisdictions: []string{},
		Requirements:  []Requirement{},
		RiskLevel:     RiskLow,
	}

	best := 0.0
	for _, ev := range req.Evidence {
		best = max(best, ev.RelevanceScore)
		if ev.RelevanceScore < h.Threshold {
			continue
		}
		if !slices.Contains(a.Jurisdictions, ev.Jurisdiction) {
			a.Jurisdictions = append(a.Jurisdictions, ev.Jurisdiction)
		}
		a.Requirements = append(a.Requirements, Requirement{
			Jurisdiction: ev.Jurisdiction,
			Requirement:  firstSentence(ev.Content),
			Source:       ev.SourceDocument,
		})
	}
	slices.Sort(a.Jurisdictions)

	a.RequiresCompliance = len(a.Jurisdictions) > 0
	a.Confidence = best
	switch {
	case len(req.Evidence) == 0:
		a.NeedsReview = true
		a.Rationale = "no passages were retrieved"
	case a.RequiresCompliance:
		a.RiskLevel = RiskMedium
		if len(a.Jurisdictions) > 1 {
			a.RiskLevel = RiskHigh
		}
		a.Rationale = fmt.Sprintf("%d passages at or above %.2f relevance in %s",
			len(a.Requirements), h.Threshold, strings.Join(a.Jurisdictions, ", "))
	default:
		a.Rationale = fmt.Sprintf("no passage reached %.2f relevance", h.Threshold)
	}
	return a, nil
}

func (h Heuristic) Summarize(_ context.Context, req SummaryRequest) (Summary, error) {
	s := Summary{Actions: []string{}}
	if !req.Assessment.RequiresCompliance {
		s.Summary = fmt.Sprintf("%s needs no geo-specific compliance logic.", req.Feature.Name)
	} else {
		s.Summary = fmt.Sprintf("%s needs geo-specific compliance logic for %s.",
			req.Feature.Name, strings.Join(req.Assessment.Jurisdictions, ", "))
		for _, r := range req.Assessment.Requirements {
			s.Actions = append(s.Actions, fmt.Sprintf("%s: %s", r.Jurisdiction, r.Requirement))
		}
	}
	if req.Decision != "" {
		s.Summary += fmt.Sprintf(" Reviewer decision: %s.", req.Decision)
	}
	return s, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return s[:i+1]
	}
	return s
}
