package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JaimeStill/compass/internal/prompts"
	"github.com/JaimeStill/compass/pkg/formatting"
)

// Service implements Synthesizer on top of a Model, composing prompts from
// the stage instructions and output specification.
type Service struct {
	model   Model
	prompts prompts.Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates a Service. A zero timeout leaves calls bounded only by ctx.
func NewService(model Model, source prompts.Source, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		model:   model,
		prompts: source,
		timeout: timeout,
		logger:  logger.With("system", "synthesis", "model", model.Name()),
	}
}

func (s *Service) Assess(ctx context.Context, req Request) (Assessment, error) {
	user := composeAssessment(req)

	a, err := complete[Assessment](ctx, s, prompts.StageSynthesize, user)
	if err != nil {
		return Assessment{}, err
	}
	a.normalize()

	s.logger.InfoContext(ctx, "assessment synthesized",
		"feature", req.Feature.Name,
		"evidence", len(req.Evidence),
		"requires_compliance", a.RequiresCompliance,
		"risk_level", a.RiskLevel,
		"needs_review", a.NeedsReview,
	)
	return a, nil
}

func (s *Service) Summarize(ctx context.Context, req SummaryRequest) (Summary, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Feature:\n\n%s\n\nAssessment:\n\n%s\n", marshalIndent(req.Feature), marshalIndent(req.Assessment))
	if req.Decision != "" {
		fmt.Fprintf(&sb, "\nReviewer decision: %s\n", req.Decision)
	}

	sum, err := complete[Summary](ctx, s, prompts.StageSummarize, sb.String())
	if err != nil {
		return Summary{}, err
	}
	if sum.Actions == nil {
		sum.Actions = []string{}
	}
	return sum, nil
}

// ComposeSystemPrompt joins the effective instructions and the output
// specification for stage.
func ComposeSystemPrompt(ctx context.Context, source prompts.Source, stage prompts.Stage) (string, error) {
	instructions, err := source.Instructions(ctx, stage)
	if err != nil {
		return "", fmt.Errorf("load instructions for %s: %w", stage, err)
	}

	spec, err := source.Spec(ctx, stage)
	if err != nil {
		return "", fmt.Errorf("load spec for %s: %w", stage, err)
	}

	return instructions + "\n\n" + spec, nil
}

func complete[T any](ctx context.Context, s *Service, stage prompts.Stage, user string) (T, error) {
	var zero T

	system, err := ComposeSystemPrompt(ctx, s.prompts, stage)
	if err != nil {
		return zero, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := s.model.Complete(ctx, system, user)
	if err != nil {
		return zero, err
	}
	s.logger.DebugContext(ctx, "model call complete", "stage", stage, "duration", time.Since(start))

	out, err := formatting.Parse[T](content)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrInvalidOutput, stage, err)
	}
	return out, nil
}

func composeAssessment(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Feature:\n\n%s\n\n", marshalIndent(req.Feature))

	if len(req.Evidence) == 0 {
		sb.WriteString("No passages were retrieved for this feature.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Retrieved passages (%d):\n\n%s\n", len(req.Evidence), marshalIndent(req.Evidence))
	return sb.String()
}

func (a *Assessment) normalize() {
	a.RiskLevel = strings.ToUpper(strings.TrimSpace(a.RiskLevel))
	switch a.RiskLevel {
	case RiskHigh, RiskMedium, RiskLow:
	default:
		a.RiskLevel = RiskMedium
		a.NeedsReview = true
	}
	a.Confidence = min(max(a.Confidence, 0), 1)
	if a.Jurisdictions == nil {
		a.Jurisdictions = []string{}
	}
	if a.Requirements == nil {
		a.Requirements = []Requirement{}
	}
}
