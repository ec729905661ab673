package scanner

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/govplane/backplane/pkg/models"
	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

const classifierPrompt = `Classify the severity of any security or policy concern in the ` +
	`following text. Respond with exactly one word: low, medium, high, or critical.\n\nText:\n`

// AnthropicClassifier asks a Claude model to assign a severity to
// suspect text, backing the scanner's ML-escalation path (§4.2). It is
// only constructed when content_scanner.ml_enabled is true and an API
// key is configured; any call failure is surfaced to the caller, who
// degrades to regex-only scanning.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClassifier(apiKey string) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{client: &client, model: anthropic.ModelClaude3_5HaikuLatest}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, text string) (models.PatternSeverity, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 8,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classifierPrompt + text)),
		},
	})
	if err != nil {
		return "", govplaneerrors.NetworkError("classify content via anthropic", err)
	}
	if len(msg.Content) == 0 {
		return "", govplaneerrors.ParseError("classify content via anthropic", "empty response content")
	}
	word := strings.ToLower(strings.TrimSpace(msg.Content[0].Text))
	switch models.PatternSeverity(word) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return models.PatternSeverity(word), nil
	default:
		return models.SeverityLow, nil
	}
}
