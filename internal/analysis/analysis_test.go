package analysis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/analysis"
	"github.com/JaimeStill/compass/internal/archive"
	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/internal/synthesis"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/backoff"
	"github.com/JaimeStill/compass/pkg/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// regulator serves canned passages, or hangs until the caller gives up.
type regulator struct {
	jurisdiction string
	score        float64
	hang         bool
	calls        atomic.Int32
}

func (r *regulator) serve(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/search", func(w http.ResponseWriter, req *http.Request) {
		r.calls.Add(1)
		if r.hang {
			<-req.Context().Done()
			return
		}
		json.NewEncoder(w).Encode(providers.SearchResponse{
			Jurisdiction: r.jurisdiction,
			Results: []providers.SearchResult{{
				ChunkID:        r.jurisdiction + "-1",
				SourceDocument: r.jurisdiction + " minors act",
				Content:        "Platforms must verify the age of minors. Further text.",
				RelevanceScore: r.score,
			}},
			TotalResults: 1,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

type flakySynth struct {
	synthesis.Heuristic
	failures atomic.Int32
}

func (f *flakySynth) Assess(ctx context.Context, req synthesis.Request) (synthesis.Assessment, error) {
	if f.failures.Add(-1) >= 0 {
		return synthesis.Assessment{}, fmt.Errorf("%w: model overloaded", synthesis.ErrTransient)
	}
	return f.Heuristic.Assess(ctx, req)
}

type harness struct {
	engine  *engine.Engine
	store   *workflows.Memory
	archive *archive.Archive
}

type setup struct {
	regulators []*regulator
	synth      synthesis.Synthesizer
	policy     dispatch.Policy
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	logger := discard()

	ps := make([]providers.Provider, len(s.regulators))
	for i, r := range s.regulators {
		ps[i] = providers.Provider{
			ID:           fmt.Sprintf("provider-%d", i+1),
			URL:          r.serve(t),
			Jurisdiction: r.jurisdiction,
		}
	}
	client, err := providers.New(ps, logger)
	require.NoError(t, err)

	if s.synth == nil {
		s.synth = synthesis.Heuristic{Threshold: 0.5}
	}
	if s.policy.Kind == "" {
		s.policy = dispatch.BestEffort()
	}

	store := workflows.NewMemory()
	arch := archive.New(storage.NewMemory(), logger)

	registry, err := engine.NewRegistry(analysis.Definitions(analysis.Deps{
		Providers:   client,
		Synthesizer: s.synth,
		Results:     arch,
		Workflows:   store,
		Search: analysis.Search{
			MaxResults:   5,
			Threshold:    0.5,
			TaskTimeout:  100 * time.Millisecond,
			RoundTimeout: 2 * time.Second,
			Policy:       s.policy,
		},
	})...)
	require.NoError(t, err)

	pub := progress.New(logger)
	gate := hitl.New(hitl.NewMemory(), pub, logger)
	disp := dispatch.New(client, logger, dispatch.WithBackoff(backoff.Constant{Interval: time.Millisecond}))

	return &harness{
		engine: engine.New(registry, store, gate, disp, pub, logger,
			engine.WithBackoff(backoff.Constant{Interval: time.Millisecond}),
			engine.WithArchive(arch),
		),
		store:   store,
		archive: arch,
	}
}

func (h *harness) start(t *testing.T, typ string, input any) uuid.UUID {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	id, err := h.engine.Start(context.Background(), workflows.StartCommand{Type: typ, Input: raw})
	require.NoError(t, err)
	return id
}

func (h *harness) find(t *testing.T, id uuid.UUID) *workflows.Instance {
	t.Helper()
	inst, err := h.engine.Find(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) answer(t *testing.T, id uuid.UUID, response string) *hitl.Prompt {
	t.Helper()
	ctx := context.Background()
	p, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: response}))
	return p
}

func report(t *testing.T, inst *workflows.Instance) analysis.Report {
	t.Helper()
	var r analysis.Report
	require.NoError(t, json.Unmarshal(inst.Result, &r))
	return r
}

func feature() analysis.FeatureInput {
	return analysis.FeatureInput{
		FeatureName: "teen mode",
		Description: "Restricts direct messages for users under 16.",
	}
}

func TestFeatureAnalysisToleratesSlowProviders(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{
		{jurisdiction: "EU", score: 0.9},
		{jurisdiction: "US-CA", score: 0.8},
		{jurisdiction: "US-FL", score: 0.7},
		{jurisdiction: "US-UT", hang: true},
		{jurisdiction: "BR", hang: true},
	}})

	id := h.start(t, analysis.TypeFeatureAnalysis, feature())

	inst := h.find(t, id)
	require.Equal(t, workflows.StatusCompleted, inst.Status, inst.Error)

	r := report(t, inst)
	assert.Equal(t, []string{"provider-1", "provider-2", "provider-3"}, r.Succeeded)
	assert.Equal(t, []string{"provider-4", "provider-5"}, r.Failed)
	assert.True(t, r.Assessment.RequiresCompliance)
	assert.Equal(t, []string{"EU", "US-CA", "US-FL"}, r.Assessment.Jurisdictions)
	assert.Equal(t, analysis.AutoApproved, r.Review.Decision)
	assert.True(t, r.Approved)
	assert.NotEmpty(t, r.Actions)
}

func TestFeatureAnalysisQuorumNotMet(t *testing.T) {
	h := newHarness(t, setup{
		regulators: []*regulator{
			{jurisdiction: "EU", score: 0.9},
			{jurisdiction: "BR", hang: true},
		},
		policy: dispatch.RequireQuorum(2),
	})

	id := h.start(t, analysis.TypeFeatureAnalysis, feature())

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindInsufficientResults, inst.ErrorKind)
}

func TestFeatureAnalysisReviewSuspendsAndResumes(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", score: 0.9}}})

	in := feature()
	in.RequireReview = true
	id := h.start(t, analysis.TypeFeatureAnalysis, in)

	inst := h.find(t, id)
	require.Equal(t, workflows.StatusAwaitingHITL, inst.Status)

	p := h.answer(t, id, analysis.ReviewReject)
	assert.Equal(t, analysis.ReviewQuestion, p.Question)
	assert.Equal(t, "review", p.Step)
	assert.Equal(t, "teen mode", p.Context["feature_name"])

	r := report(t, h.find(t, id))
	assert.True(t, r.Review.Required)
	assert.Equal(t, analysis.ReviewReject, r.Review.Decision)
	assert.False(t, r.Approved)
	assert.Contains(t, r.Summary, "Reviewer decision: REJECT.")
}

func TestFeatureAnalysisWithoutEvidenceNeedsReview(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", hang: true}}})

	id := h.start(t, analysis.TypeFeatureAnalysis, feature())

	assert.Equal(t, workflows.StatusAwaitingHITL, h.find(t, id).Status)
	h.answer(t, id, analysis.ReviewApprove)

	r := report(t, h.find(t, id))
	assert.True(t, r.Approved)
	assert.Empty(t, r.Succeeded)
}

func TestFeatureAnalysisFiltersJurisdictions(t *testing.T) {
	eu := &regulator{jurisdiction: "EU", score: 0.9}
	us := &regulator{jurisdiction: "US-CA", score: 0.9}
	h := newHarness(t, setup{regulators: []*regulator{eu, us}})

	in := feature()
	in.Jurisdictions = []string{"us-ca"}
	id := h.start(t, analysis.TypeFeatureAnalysis, in)

	require.Equal(t, workflows.StatusCompleted, h.find(t, id).Status)
	assert.Zero(t, eu.calls.Load())
	assert.Equal(t, int32(1), us.calls.Load())
}

func TestFeatureAnalysisValidation(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", score: 0.9}}})

	tests := []struct {
		name  string
		input analysis.FeatureInput
	}{
		{"missing name", analysis.FeatureInput{Description: "x"}},
		{"missing description", analysis.FeatureInput{FeatureName: "x"}},
		{"unserved jurisdiction", analysis.FeatureInput{FeatureName: "x", Description: "y", Jurisdictions: []string{"JP"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := h.find(t, h.start(t, analysis.TypeFeatureAnalysis, tt.input))
			assert.Equal(t, workflows.StatusFailed, inst.Status)
			assert.Equal(t, workflows.KindValidation, inst.ErrorKind)
			assert.Zero(t, inst.Attempts)
		})
	}
}

func TestFeatureAnalysisRetriesTransientSynthesis(t *testing.T) {
	synth := &flakySynth{Heuristic: synthesis.Heuristic{Threshold: 0.5}}
	synth.failures.Store(1)
	h := newHarness(t, setup{
		regulators: []*regulator{{jurisdiction: "EU", score: 0.9}},
		synth:      synth,
	})

	inst := h.find(t, h.start(t, analysis.TypeFeatureAnalysis, feature()))
	assert.Equal(t, workflows.StatusCompleted, inst.Status)
	assert.Equal(t, int32(-1), synth.failures.Load())
	assert.Zero(t, inst.Attempts)
}

func TestIterationCleanupDeletesArchivedResult(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", score: 0.9}}})
	ctx := context.Background()

	prev := h.start(t, analysis.TypeFeatureAnalysis, feature())
	require.Equal(t, workflows.StatusCompleted, h.find(t, prev).Status)
	ok, err := h.archive.Exists(ctx, prev)
	require.NoError(t, err)
	require.True(t, ok)

	id := h.start(t, analysis.TypeIterationCleanup, analysis.CleanupInput{PreviousWorkflowID: prev.String()})
	require.Equal(t, workflows.StatusAwaitingHITL, h.find(t, id).Status)

	p := h.answer(t, id, analysis.CleanupDelete)
	assert.Equal(t, analysis.CleanupQuestion, p.Question)
	assert.Equal(t, []string{analysis.CleanupDelete, analysis.CleanupKeep}, p.Options)

	inst := h.find(t, id)
	require.Equal(t, workflows.StatusCompleted, inst.Status)

	var res analysis.CleanupResult
	require.NoError(t, json.Unmarshal(inst.Result, &res))
	assert.True(t, res.Deleted)
	assert.Equal(t, prev, res.PreviousWorkflowID)

	ok, err = h.archive.Exists(ctx, prev)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIterationCleanupKeep(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", score: 0.9}}})

	prev := h.start(t, analysis.TypeFeatureAnalysis, feature())
	id := h.start(t, analysis.TypeIterationCleanup, analysis.CleanupInput{PreviousWorkflowID: prev.String()})
	h.answer(t, id, analysis.CleanupKeep)

	var res analysis.CleanupResult
	require.NoError(t, json.Unmarshal(h.find(t, id).Result, &res))
	assert.False(t, res.Deleted)
	assert.Equal(t, analysis.CleanupKeep, res.Decision)

	ok, err := h.archive.Exists(context.Background(), prev)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIterationCleanupRejectsActivePrevious(t *testing.T) {
	h := newHarness(t, setup{regulators: []*regulator{{jurisdiction: "EU", score: 0.9}}})

	in := feature()
	in.RequireReview = true
	prev := h.start(t, analysis.TypeFeatureAnalysis, in)
	require.Equal(t, workflows.StatusAwaitingHITL, h.find(t, prev).Status)

	inst := h.find(t, h.start(t, analysis.TypeIterationCleanup, analysis.CleanupInput{PreviousWorkflowID: prev.String()}))
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindValidation, inst.ErrorKind)

	inst = h.find(t, h.start(t, analysis.TypeIterationCleanup, analysis.CleanupInput{PreviousWorkflowID: uuid.NewString()}))
	assert.Equal(t, workflows.KindValidation, inst.ErrorKind)
}
