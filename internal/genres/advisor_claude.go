package genres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/interfaces"
)

const classifySystemPrompt = `You classify audiobook genres against an existing canonical mapping.
Reply with EXACTLY ONE token: either the name of an existing canonical genre
from the mapping, or NO_FIT. No punctuation, no explanation.`

// ClaudeAdvisor implements the GenreAdvisor interface using the Anthropic API
type ClaudeAdvisor struct {
	config     *common.ClaudeConfig
	confidence float64
	logger     arbor.ILogger
	client     anthropic.Client
	timeout    time.Duration
}

// NewClaudeAdvisor creates a Claude-backed genre advisor
func NewClaudeAdvisor(config *common.ClaudeConfig, confidence float64, logger arbor.ILogger) (*ClaudeAdvisor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for the genre advisor (set ANTHROPIC_API_KEY, FABULA_CLAUDE_API_KEY, or claude.api_key in config)")
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	advisor := &ClaudeAdvisor{
		config:     config,
		confidence: confidence,
		logger:     logger,
		client:     client,
		timeout:    timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Str("timeout", timeout.String()).
		Float64("confidence", confidence).
		Msg("Claude genre advisor initialized")

	return advisor, nil
}

// Classify asks the model whether the genre belongs under an existing
// canonical. The prompt carries the whole mapping so the model can only pick
// from names it was shown.
func (a *ClaudeAdvisor) Classify(ctx context.Context, genre string, mappingJSON string) (string, error) {
	prompt := fmt.Sprintf(`The current genre mapping (canonical name -> alternative spellings) is:

%s

Classify the genre %q. If you are at least %.2f confident that it is the same
genre as one of the canonical names above (possibly in another language or
spelling), reply with that canonical name. Otherwise reply %s.`,
		mappingJSON, genre, a.confidence, interfaces.NoFitAnswer)

	answer, stopReason, err := a.complete(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return "", err
	}

	if stopReason != "end_turn" {
		return "", fmt.Errorf("advisor did not finish cleanly (stop reason %q)", stopReason)
	}

	return strings.TrimSpace(answer), nil
}

// Ping verifies the advisor is reachable; run once at construction
func (a *ClaudeAdvisor) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	answer, _, err := a.complete(pingCtx, "", "reply OK")
	if err != nil {
		return fmt.Errorf("advisor probe failed: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return fmt.Errorf("advisor probe returned empty response")
	}
	return nil
}

// complete issues a single-turn completion and returns the text and stop reason
func (a *ClaudeAdvisor) complete(ctx context.Context, system, prompt string) (string, string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(a.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	if a.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(a.config.Temperature))
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := a.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), string(resp.StopReason), nil
}
