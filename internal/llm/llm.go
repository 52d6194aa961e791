package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dfonseca/quadro/internal/models"
)

// Estimate holds an LLM-suggested complexity estimate for a card.
type Estimate struct {
	Hours     float64 `json:"hours"`
	Rationale string  `json:"rationale"`
}

// Client wraps the Anthropic API for card estimation.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildEstimatePrompt constructs the system and user prompts for estimation.
func buildEstimatePrompt(title, description string) (system string, user string) {
	system = `You estimate the effort of software delivery cards. Given a card's title and optional description, return a JSON object with exactly two fields:

- "hours": a number, the estimated effort in working hours (0.5 to 80)
- "rationale": 1-3 sentences explaining the estimate

Rules:
- Return valid JSON only, no markdown fencing or explanation
- Round to the nearest half hour
- Assume one experienced developer working alone
- If the card is too vague to estimate, pick a conservative middle value and say so in the rationale`

	var sb strings.Builder
	sb.WriteString("Card title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SuggestEstimate sends card data to the LLM and returns an effort estimate.
func (c *Client) SuggestEstimate(ctx context.Context, title, description string) (*Estimate, error) {
	systemPrompt, userPrompt := buildEstimatePrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	text = stripFencing(text)

	var est Estimate
	if err := json.Unmarshal([]byte(text), &est); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if est.Hours <= 0 {
		return nil, fmt.Errorf("LLM returned non-positive estimate: %g", est.Hours)
	}

	return &est, nil
}

// stripFencing removes markdown code fencing if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// SuggestDueDate derives a due date hint from a card's estimate, assuming
// six productive hours per working day from the card's start (or now).
func SuggestDueDate(card *models.Card, now time.Time) *time.Time {
	if card.EstimateHours <= 0 {
		return nil
	}
	start := now
	if card.StartedAt != nil {
		start = *card.StartedAt
	}
	days := int(card.EstimateHours / 6)
	if float64(days)*6 < card.EstimateHours {
		days++
	}
	if days < 1 {
		days = 1
	}
	due := start.AddDate(0, 0, days)
	return &due
}
