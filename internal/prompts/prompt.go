// Package prompts manages the instructions given to the synthesis model.
// Each stage has built-in instructions that an active stored override
// replaces, and a fixed output specification.
package prompts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prompt is a named instruction override for a stage. At most one prompt
// per stage is active.
type Prompt struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Stage        Stage     `json:"stage"`
	Instructions string    `json:"instructions"`
	Description  *string   `json:"description"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Command is the writable part of a Prompt, used by create and update.
type Command struct {
	Name         string  `json:"name"`
	Stage        Stage   `json:"stage"`
	Instructions string  `json:"instructions"`
	Description  *string `json:"description"`
}

// Validate trims the name and rejects an empty name, empty instructions or
// an unknown stage.
func (c *Command) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(c.Instructions) == "" {
		return invalid("instructions are required")
	}
	if !c.Stage.Valid() {
		return ErrInvalidStage
	}
	return nil
}
