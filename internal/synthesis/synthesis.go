// Package synthesis turns search evidence into a compliance assessment
// using a large language model.
package synthesis

import (
	"context"
	"encoding/json"
)

// Risk levels reported by an Assessment.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// Feature is the product feature under analysis.
type Feature struct {
	Name        string `json:"feature_name"`
	Description string `json:"description"`
	Document    string `json:"document,omitempty"`
}

// Evidence is one passage retrieved by a search provider.
type Evidence struct {
	ProviderID     string  `json:"provider_id"`
	Jurisdiction   string  `json:"jurisdiction"`
	SourceDocument string  `json:"source_document"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Requirement is one obligation an applicable law imposes.
type Requirement struct {
	Jurisdiction string `json:"jurisdiction"`
	Requirement  string `json:"requirement"`
	Source       string `json:"source,omitempty"`
}

// Assessment is the model's compliance decision.
type Assessment struct {
	RequiresCompliance bool          `json:"requires_compliance"`
	Jurisdictions      []string      `json:"jurisdictions"`
	RiskLevel          string        `json:"risk_level"`
	Confidence         float64       `json:"confidence"`
	Rationale          string        `json:"rationale"`
	Requirements       []Requirement `json:"requirements"`
	NeedsReview        bool          `json:"needs_review"`
}

// Request asks for an assessment of a feature against evidence.
type Request struct {
	Feature  Feature    `json:"feature"`
	Evidence []Evidence `json:"evidence"`
}

// SummaryRequest asks for the final record of an assessed feature.
type SummaryRequest struct {
	Feature    Feature    `json:"feature"`
	Assessment Assessment `json:"assessment"`
	Decision   string     `json:"decision,omitempty"`
}

// Summary is the actionable outcome of an analysis.
type Summary struct {
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// Synthesizer produces assessments and summaries.
type Synthesizer interface {
	Assess(ctx context.Context, req Request) (Assessment, error)
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
}

// Model completes a single system + user exchange.
type Model interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
