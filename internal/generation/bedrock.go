package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
)

const anthropicVersion = "bedrock-2023-05-31"

type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock generates text with an Anthropic model hosted on Bedrock.
type Bedrock struct {
	client  BedrockClient
	modelID string
}

func NewBedrock(client BedrockClient, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: strings.TrimSpace(modelID)}
}

// Generate makes exactly one InvokeModel call. No retry, no streaming.
func (b *Bedrock) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.New(apperr.InvalidInput, apperr.StageGeneration, "prompt is required", nil)
	}
	if b.modelID == "" {
		return "", apperr.New(apperr.NotConfigured, apperr.StageGeneration, "missing env BEDROCK_MODEL_ID", nil)
	}

	legacy := usesTextCompletion(b.modelID)
	var payload any
	if legacy {
		payload = completionRequest{
			Prompt:            "\n\nHuman: " + prompt + "\n\nAssistant:",
			MaxTokensToSample: maxTokens,
			Temperature:       temperature,
		}
	} else {
		payload = messagesRequest{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        maxTokens,
			Temperature:      temperature,
			Messages: []message{{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: prompt}},
			}},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.New(apperr.GenerationFailed, apperr.StageGeneration, "encode request", err)
	}

	logger.From(ctx).Debug("invoking model",
		zap.String("model_id", b.modelID),
		zap.Bool("text_completion", legacy),
		zap.Int("prompt_chars", len(prompt)),
	)

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if apperr.IsTimeout(err) {
			return "", apperr.New(apperr.Timeout, apperr.StageGeneration, "bedrock InvokeModel timed out", err)
		}
		return "", apperr.New(apperr.GenerationFailed, apperr.StageGeneration, "bedrock InvokeModel", err)
	}

	text, err := decode(out.Body, legacy)
	if err != nil {
		return "", apperr.New(apperr.GenerationFailed, apperr.StageGeneration, "bedrock response", err)
	}
	return text, nil
}

// usesTextCompletion reports whether modelID only accepts the Human/Assistant
// prompt format.
func usesTextCompletion(modelID string) bool {
	id := strings.ToLower(modelID)
	// cross-region inference profiles prefix the model, e.g. "us.anthropic..."
	if i := strings.Index(id, "anthropic."); i >= 0 {
		id = id[i:]
	}
	return strings.HasPrefix(id, "anthropic.claude-v2") || strings.HasPrefix(id, "anthropic.claude-instant")
}

type completionRequest struct {
	Prompt            string  `json:"prompt"`
	MaxTokensToSample int     `json:"max_tokens_to_sample"`
	Temperature       float64 `json:"temperature"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func decode(body []byte, legacy bool) (string, error) {
	if legacy {
		var raw struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return "", fmt.Errorf("unmarshal completion: %w", err)
		}
		return raw.Completion, nil
	}

	var raw struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("unmarshal messages: %w", err)
	}
	var b strings.Builder
	for _, c := range raw.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}
