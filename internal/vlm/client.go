// Package vlm wraps the vision-capable model used by the goal loop to judge
// screenshots against a goal's natural-language description. The core only
// ever consumes AnalyzeWithVision as a pure function returning a JSON string
// (§6 "External collaborators" treats the VLM client this way); callers that
// want a different provider can implement the same interface without
// touching the goal loop.
package vlm

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/genai"

	"github.com/gaia-qa/gaiabrowser/internal/config"
)

// Client analyzes a prompt plus a screenshot with a vision-capable model.
type Client interface {
	AnalyzeWithVision(ctx context.Context, prompt string, screenshotBase64 string) (string, error)
}

// GeminiClient is the default Client, backed by google.golang.org/genai.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewGeminiClient constructs a client from the VLM config section, reading
// the API key from the environment variable it names.
func NewGeminiClient(ctx context.Context, cfg config.VLMConfig) (*GeminiClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	temp, err := strconv.ParseFloat(cfg.Temperature, 32)
	if err != nil {
		temp = 0.1
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(temp),
	}, nil
}

// AnalyzeWithVision sends a text prompt plus one screenshot to the model and
// returns its raw text response. The caller is responsible for parsing that
// response as JSON when the prompt asked for a structured verdict.
func (c *GeminiClient) AnalyzeWithVision(ctx context.Context, prompt string, screenshotBase64 string) (string, error) {
	imageData, err := base64.StdEncoding.DecodeString(screenshotBase64)
	if err != nil {
		return "", fmt.Errorf("decoding screenshot: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				genai.NewPartFromText(prompt),
				{InlineData: &genai.Blob{Data: imageData, MIMEType: "image/png"}},
			},
		},
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     &c.temperature,
		MaxOutputTokens: c.maxTokens,
	}

	response, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini vision request failed: %w", err)
	}
	return response.Text(), nil
}
