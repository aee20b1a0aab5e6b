package prompts

import (
	"encoding/json"
	"slices"
)

// Stage is a synthesis call whose instructions can be overridden.
type Stage string

const (
	StageSynthesize Stage = "synthesize"
	StageSummarize  Stage = "summarize"
)

var stages = []Stage{StageSynthesize, StageSummarize}

// Stages lists every stage.
func Stages() []Stage {
	return slices.Clone(stages)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return slices.Contains(stages, s)
}

// ParseStage returns s as a Stage or ErrInvalidStage.
func ParseStage(s string) (Stage, error) {
	if v := Stage(s); v.Valid() {
		return v, nil
	}
	return "", ErrInvalidStage
}

// UnmarshalJSON rejects unknown stages.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStage(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
