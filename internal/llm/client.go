// Package llm wraps the LLM collaborator behind a small invoke interface
// with retry, rate limiting, and circuit breaking. Agents depend on the
// Invoker interface so tests can substitute a canned model.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/config"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Invoker is the reasoning interface agents call. Invoke sends a single-turn
// prompt and returns the raw model text.
type Invoker interface {
	Invoke(ctx context.Context, operation, prompt string, maxTokens int64) (string, error)
}

// Client is the production Invoker backed by the Anthropic API.
type Client struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Invoker = (*Client)(nil)

// New creates an LLM client from configuration. The API key is read from
// ANTHROPIC_API_KEY.
func New(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	retry := DefaultRetryConfig()

	c := &Client{
		client: &client,
		model:  cfg.Model,
		retry:  retry,
		logger: logger,
	}
	if retry.CircuitBreakerEnabled {
		c.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
	}
	if cfg.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Invoke sends one user message to the model and returns the concatenated
// text blocks of the response.
func (c *Client) Invoke(ctx context.Context, operation, prompt string, maxTokens int64) (string, error) {
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("LLM %s call failed: %w", operation, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// EventClassification is the model's verdict on a normalized event.
type EventClassification struct {
	Classification  types.EventClassification `json:"classification"`
	Confidence      float64                   `json:"confidence"`
	Severity        int                       `json:"severity"`
	Reasoning       string                    `json:"reasoning"`
	SuggestedAction string                    `json:"suggested_action"`
}

// Classifier decides whether a normalized event represents a failure,
// tampering, anomaly, or normal operation. A keyword heuristic stands in
// whenever the model call or its output fails.
type Classifier struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewClassifier creates an event classifier. A nil invoker means
// heuristic-only classification.
func NewClassifier(invoker Invoker, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{invoker: invoker, logger: logger}
}

// Classify returns the event classification, never an error: any model
// failure degrades to the keyword heuristic. Completed incidents for the
// same resource type give the model historical context.
func (cl *Classifier) Classify(ctx context.Context, ictx *types.IncidentContext, history []*types.Incident) *EventClassification {
	if cl.invoker == nil {
		return cl.heuristic(ictx)
	}

	prompt := buildClassificationPrompt(ictx, history)
	text, err := cl.invoker.Invoke(ctx, "classification", prompt, 1024)
	if err != nil {
		cl.logger.Warn("event classification call failed, using heuristic",
			"correlation_id", ictx.CorrelationID, "error", err)
		return cl.heuristic(ictx)
	}

	var result EventClassification
	if err := Parse(text, &result); err != nil {
		cl.logger.Warn("event classification parse failed, using heuristic",
			"correlation_id", ictx.CorrelationID, "error", err)
		return cl.heuristic(ictx)
	}
	if !validClassification(result.Classification) {
		return cl.heuristic(ictx)
	}
	if result.Severity < 1 {
		result.Severity = 1
	}
	if result.Severity > 10 {
		result.Severity = 10
	}
	return &result
}

func validClassification(c types.EventClassification) bool {
	switch c {
	case types.ClassificationFailure, types.ClassificationTampering,
		types.ClassificationAnomaly, types.ClassificationNormal:
		return true
	}
	return false
}

// heuristic is the deterministic fallback: destructive verbs in the event
// name mean FAILURE, everything else NORMAL.
func (cl *Classifier) heuristic(ictx *types.IncidentContext) *EventClassification {
	upper := strings.ToUpper(ictx.EventName)
	if strings.Contains(upper, "FAILURE") || strings.Contains(upper, "TERMINATE") || strings.Contains(upper, "DELETE") {
		return &EventClassification{
			Classification:  types.ClassificationFailure,
			Confidence:      0.7,
			Severity:        8,
			Reasoning:       "keyword-based fallback classification",
			SuggestedAction: "investigate",
		}
	}
	return &EventClassification{
		Classification:  types.ClassificationNormal,
		Confidence:      0.5,
		Severity:        2,
		Reasoning:       "keyword-based fallback classification",
		SuggestedAction: "monitor",
	}
}

func buildClassificationPrompt(ictx *types.IncidentContext, history []*types.Incident) string {
	details := string(ictx.EventDetails)
	if len(details) > 2000 {
		details = details[:2000]
	}

	var hist strings.Builder
	if len(history) > 0 {
		hist.WriteString("\nRecently completed incidents for this resource type:\n")
		for _, inc := range history {
			fmt.Fprintf(&hist, "- %s: %s severity %d at %s\n",
				inc.CorrelationID, inc.Classification, inc.Severity,
				inc.IncidentTimestamp.UTC().Format(time.RFC3339))
		}
	}

	return fmt.Sprintf(`You are an infrastructure incident classifier. Classify this event.

Event name: %s
Resource type: %s
Resource id: %s
Region: %s
Actor: %s
Event details: %s
%s
Respond with ONLY a JSON object:
{
  "classification": "FAILURE|TAMPERING|ANOMALY|NORMAL",
  "confidence": 0.0-1.0,
  "severity": 1-10,
  "reasoning": "one sentence",
  "suggested_action": "one short phrase"
}

FAILURE: the resource stopped working or was destroyed.
TAMPERING: an unexpected actor changed security-relevant configuration.
ANOMALY: unusual but not clearly broken.
NORMAL: expected operational activity.`,
		ictx.EventName, ictx.ResourceType, ictx.ResourceID, ictx.Region, ictx.Actor, details, hist.String())
}
