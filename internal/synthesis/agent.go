package synthesis

import (
	"context"
	"strings"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

// agentModel completes prompts through a go-agents provider (azure, ollama).
type agentModel struct {
	agent    agent.Agent
	provider string
	model    string
}

func newAgent(cfg *Config) (*agentModel, error) {
	ac := cfg.Agent()
	a, err := agent.New(&ac)
	if err != nil {
		return nil, err
	}
	return &agentModel{agent: a, provider: cfg.Provider, model: cfg.Model}, nil
}

// Agent returns the go-agents configuration for the azure and ollama
// providers, layered over the library defaults.
func (c *Config) Agent() gaconfig.AgentConfig {
	options := make(map[string]any)
	for key, v := range map[string]string{
		"token":       c.APIKey,
		"deployment":  c.Deployment,
		"api_version": c.APIVersion,
		"auth_type":   c.AuthType,
	} {
		if v != "" {
			options[key] = v
		}
	}

	ac := gaconfig.DefaultAgentConfig()
	ac.Merge(&gaconfig.AgentConfig{
		Name: "compass-synthesis",
		Provider: &gaconfig.ProviderConfig{
			Name:    c.Provider,
			BaseURL: c.BaseURL,
			Options: options,
		},
		Model: &gaconfig.ModelConfig{Name: c.Model},
	})
	return ac
}

func (m *agentModel) Name() string { return m.provider + "/" + m.model }

// Complete sends one chat turn. The agent carries no per-call system
// message, so the instructions lead the prompt.
func (m *agentModel) Complete(ctx context.Context, system, user string) (string, error) {
	prompt := strings.Join([]string{system, user}, "\n\n")

	resp, err := m.agent.Chat(ctx, prompt)
	if err != nil {
		return "", classify(m.provider, 0, err)
	}

	content := resp.Content()
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
