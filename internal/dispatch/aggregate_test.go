package dispatch_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/dispatch"
)

func outcomes(ok int, failed int) []dispatch.Task {
	var tasks []dispatch.Task
	for i := range ok {
		tasks = append(tasks, dispatch.Task{
			ProviderID: string(rune('a' + i)),
			Status:     dispatch.StatusOK,
			Result:     json.RawMessage(`{}`),
		})
	}
	for i := range failed {
		tasks = append(tasks, dispatch.Task{
			ProviderID: string(rune('z' - i)),
			Status:     dispatch.StatusTimeout,
		})
	}
	return tasks
}

func TestAggregateQuorum(t *testing.T) {
	tests := []struct {
		name    string
		ok      int
		failed  int
		policy  dispatch.Policy
		wantErr bool
	}{
		{"best effort all failed", 0, 5, dispatch.BestEffort(), false},
		{"quorum met", 3, 2, dispatch.RequireQuorum(3), false},
		{"quorum missed", 2, 3, dispatch.RequireQuorum(3), true},
		{"quorum exceeded", 5, 0, dispatch.RequireQuorum(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := dispatch.Aggregate(outcomes(tt.ok, tt.failed), tt.policy)
			if tt.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrInsufficientResults)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, result.Succeeded, tt.ok)
			assert.Len(t, result.Failed, tt.failed)
			assert.Len(t, result.Payload, tt.ok)
		})
	}
}

func TestAggregateSortsOutput(t *testing.T) {
	tasks := []dispatch.Task{
		{ProviderID: "utah", Status: dispatch.StatusOK},
		{ProviderID: "eu", Status: dispatch.StatusOK},
		{ProviderID: "us", Status: dispatch.StatusError},
		{ProviderID: "california", Status: dispatch.StatusTimeout},
	}

	result, err := dispatch.Aggregate(tasks, dispatch.BestEffort())
	require.NoError(t, err)

	assert.Equal(t, []string{"eu", "utah"}, result.Succeeded)
	assert.Equal(t, []string{"california", "us"}, result.Failed)
	assert.Equal(t, "eu", result.Payload[0].ProviderID)
	assert.Equal(t, "timeout", result.Errors["california"])
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    dispatch.Policy
		wantErr bool
	}{
		{"", dispatch.BestEffort(), false},
		{"best_effort", dispatch.BestEffort(), false},
		{"quorum:3", dispatch.RequireQuorum(3), false},
		{"quorum:0", dispatch.Policy{}, true},
		{"quorum:x", dispatch.Policy{}, true},
		{"majority", dispatch.Policy{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dispatch.ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrInvalidPolicy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, must(dispatch.ParsePolicy(got.String())))
		})
	}
}

func must(p dispatch.Policy, err error) dispatch.Policy {
	if err != nil {
		panic(err)
	}
	return p
}
