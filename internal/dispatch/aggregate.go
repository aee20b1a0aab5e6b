package dispatch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// PolicyKind names an aggregation policy.
type PolicyKind string

const (
	PolicyBestEffort PolicyKind = "best_effort"
	PolicyQuorum     PolicyKind = "quorum"
)

// Policy decides whether a round's successes are enough to proceed.
type Policy struct {
	Kind   PolicyKind `json:"kind"`
	Quorum int        `json:"quorum,omitempty"`
}

// BestEffort accepts any number of successes, including zero.
func BestEffort() Policy {
	return Policy{Kind: PolicyBestEffort}
}

// RequireQuorum requires at least n successful providers.
func RequireQuorum(n int) Policy {
	return Policy{Kind: PolicyQuorum, Quorum: n}
}

// ParsePolicy reads "best_effort" or "quorum:N".
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(PolicyBestEffort) {
		return BestEffort(), nil
	}

	if rest, ok := strings.CutPrefix(s, string(PolicyQuorum)+":"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Policy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
		}
		return RequireQuorum(n), nil
	}

	return Policy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

func (p Policy) String() string {
	if p.Kind == PolicyQuorum {
		return fmt.Sprintf("%s:%d", PolicyQuorum, p.Quorum)
	}
	return string(PolicyBestEffort)
}

// ProviderResult is one provider's successful response.
type ProviderResult struct {
	ProviderID string          `json:"provider_id"`
	Data       json.RawMessage `json:"data"`
}

// StepResult is the merged outcome of a dispatch round. Provider lists are sorted.
type StepResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Payload   []ProviderResult  `json:"payload"`
}

// Aggregate merges dispatched tasks under policy. When a quorum is not met
// the partial StepResult is returned together with ErrInsufficientResults.
func Aggregate(tasks []Task, policy Policy) (StepResult, error) {
	result := StepResult{
		Succeeded: []string{},
		Failed:    []string{},
		Errors:    map[string]string{},
		Payload:   []ProviderResult{},
	}

	for _, t := range tasks {
		if t.Status == StatusOK {
			result.Succeeded = append(result.Succeeded, t.ProviderID)
			result.Payload = append(result.Payload, ProviderResult{
				ProviderID: t.ProviderID,
				Data:       t.Result,
			})
			continue
		}

		result.Failed = append(result.Failed, t.ProviderID)
		msg := string(t.Status)
		if t.Err != nil {
			msg = t.Err.Error()
		}
		result.Errors[t.ProviderID] = msg
	}

	slices.Sort(result.Succeeded)
	slices.Sort(result.Failed)
	slices.SortFunc(result.Payload, func(a, b ProviderResult) int {
		return strings.Compare(a.ProviderID, b.ProviderID)
	})

	if policy.Kind == PolicyQuorum && len(result.Succeeded) < policy.Quorum {
		return result, fmt.Errorf(
			"%w: %d of %d providers succeeded, quorum is %d",
			ErrInsufficientResults, len(result.Succeeded), len(tasks), policy.Quorum,
		)
	}

	return result, nil
}
