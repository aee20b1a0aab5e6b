package synthesis

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

type geminiModel struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func newGemini(ctx context.Context, cfg *Config) (*geminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &geminiModel{
		client:    client,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxTokens),
	}, nil
}

func (m *geminiModel) Name() string { return ProviderGemini + "/" + m.model }

func (m *geminiModel) Complete(ctx context.Context, system, user string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if m.maxTokens > 0 {
		config.MaxOutputTokens = m.maxTokens
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(user), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", classify(ProviderGemini, apiErr.Code, err)
		}
		return "", classify(ProviderGemini, 0, err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
