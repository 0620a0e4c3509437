package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	cbevents "github.com/dohr-michael/foreman/internal/callbacks"
	"github.com/dohr-michael/foreman/internal/models"
)

// ModelClassifier asks a chat model for intents and falls back to rules when
// the model fails or answers with something unparseable.
type ModelClassifier struct {
	model    model.BaseChatModel
	fallback *RuleClassifier
	handler  callbacks.Handler
	logger   *slog.Logger
}

// NewModelClassifier creates a model-backed classifier. A nil fallback uses
// the default rules.
func NewModelClassifier(m model.BaseChatModel, fallback *RuleClassifier, logger *slog.Logger) *ModelClassifier {
	if fallback == nil {
		fallback = NewRuleClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelClassifier{model: m, fallback: fallback, logger: logger}
}

// WithCallbacks attaches an Eino callback handler to every model call.
func (c *ModelClassifier) WithCallbacks(h callbacks.Handler) *ModelClassifier {
	c.handler = h
	return c
}

func (c *ModelClassifier) Classify(ctx context.Context, request string) ([]Intent, error) {
	msgs := []*schema.Message{
		{Role: schema.System, Content: c.systemPrompt()},
		{Role: schema.User, Content: request},
	}

	resp, err := c.model.Generate(cbevents.WithModelCallbacks(ctx, "intent_classifier", c.handler), msgs)
	if err != nil {
		c.logger.Warn("model classifier: generate failed, using rules", "error", models.HandleError(err))
		return c.fallback.Classify(ctx, request)
	}

	intents, err := c.parse(resp.Content, request)
	if err != nil {
		c.logger.Warn("model classifier: unparseable answer, using rules", "error", err)
		return c.fallback.Classify(ctx, request)
	}
	return intents, nil
}

func (c *ModelClassifier) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You classify business automation requests.\n\n")
	sb.WriteString("## Actions\n\n")
	for _, r := range c.fallback.rules {
		sb.WriteString(fmt.Sprintf("- %s (keywords: %s)\n", r.Action, strings.Join(r.Keywords, ", ")))
	}
	sb.WriteString(fmt.Sprintf("- %s (invoices for every customer at once)\n", ActionBulkInvoices))
	sb.WriteString("\n## Instructions\n\n")
	sb.WriteString("Respond with a JSON array, most likely action first:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`[{"action": "...", "confidence": 0.0-1.0, "entities": {"customer": "", "invoice_id": "", "amount": 0, "dates": [], "date_range": "", "all_customers": false}}]`)
	sb.WriteString("\n```\n")
	sb.WriteString("Use an empty array when no action applies. Only output the JSON, no other text.")
	return sb.String()
}

func (c *ModelClassifier) parse(content, request string) ([]Intent, error) {
	content = stripFences(strings.TrimSpace(content))

	var raw []Intent
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}

	intents := make([]Intent, 0, len(raw))
	for _, in := range raw {
		agents := c.fallback.agentsFor(in.Action)
		if agents == nil {
			c.logger.Debug("model classifier: dropping unknown action", "action", in.Action)
			continue
		}
		in.Confidence = min(max(in.Confidence, 0), 1)
		in.Agents = agents
		in.Request = request
		intents = append(intents, in)
	}
	if len(raw) > 0 && len(intents) == 0 {
		return nil, fmt.Errorf("no known action in %d candidates", len(raw))
	}
	return intents, nil
}

func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	var body []string
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			body = append(body, line)
		}
	}
	return strings.Join(body, "\n")
}
