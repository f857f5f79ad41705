package hooks

import (
	"strings"
	"unicode/utf8"

	"github.com/AlfredDev/novagate/dialect"
)

// TokenStrategy selects the chars-per-token ratio and per-message
// overhead used to estimate token counts when an upstream response
// doesn't report real usage (e.g. mid-stream, before the terminal
// usage event arrives). Adapted from provider/tokenizer.go's
// per-provider counting strategies, generalized to dialect.Request.
type TokenStrategy int

const (
	StrategyTiktoken TokenStrategy = iota
	StrategyAnthropic
	StrategyGemini
	StrategyMistral
	StrategyDefault
)

// ResolveTokenStrategy maps a provider id to its counting strategy.
func ResolveTokenStrategy(providerID string) TokenStrategy {
	normalized := strings.ToLower(providerID)
	switch {
	case strings.Contains(normalized, "openai"), strings.Contains(normalized, "azure"), strings.Contains(normalized, "groq"), strings.Contains(normalized, "gpt"), strings.Contains(normalized, "o1"), strings.Contains(normalized, "o3"):
		return StrategyTiktoken
	case strings.Contains(normalized, "anthropic"), strings.Contains(normalized, "claude"):
		return StrategyAnthropic
	case strings.Contains(normalized, "gemini"), strings.Contains(normalized, "google"), strings.Contains(normalized, "antigravity"):
		return StrategyGemini
	case strings.Contains(normalized, "mistral"):
		return StrategyMistral
	default:
		return StrategyDefault
	}
}

// TokenCounter estimates prompt token usage for a fixed strategy.
type TokenCounter struct {
	strategy TokenStrategy
}

// NewTokenCounter constructs a counter for the given provider id.
func NewTokenCounter(providerID string) *TokenCounter {
	return &TokenCounter{strategy: ResolveTokenStrategy(providerID)}
}

// CountRequest estimates total prompt tokens for req, including system
// prompt, message overhead, and tool definitions.
func (tc *TokenCounter) CountRequest(req dialect.Request) int {
	total := 0
	if req.System != "" {
		total += tc.estimateTokens(req.System) + tc.messageOverhead()
	}
	for _, m := range req.Messages {
		total += tc.countMessage(m)
	}
	total += tc.countTools(req.Tools)
	total += 3 // assistant-reply priming, consistent across providers
	return total
}

func (tc *TokenCounter) countMessage(m dialect.Message) int {
	tokens := tc.messageOverhead() + 1 // +1 role token
	tokens += tc.estimateTokens(m.Text)
	if m.Name != "" {
		tokens += tc.estimateTokens(m.Name) + 1
	}
	for _, call := range m.ToolCalls {
		tokens += tc.estimateTokens(call.Name)
		tokens += tc.estimateTokens(call.Arguments)
		tokens += 4
	}
	if m.ToolCallID != "" {
		tokens += tc.estimateTokens(m.ToolCallID)
	}
	return tokens
}

func (tc *TokenCounter) countTools(tools []dialect.Tool) int {
	if len(tools) == 0 {
		return 0
	}
	total := 12
	for _, t := range tools {
		total += tc.estimateTokens(t.Name)
		total += tc.estimateTokens(t.Description)
		if len(t.Parameters) > 0 {
			total += tc.estimateTokens(string(t.Parameters))
		}
		total += 8
	}
	return total
}

// CountText estimates tokens for a standalone string, used by the
// tracker's usage selector on partial streamed text.
func (tc *TokenCounter) CountText(text string) int {
	return tc.estimateTokens(text)
}

func (tc *TokenCounter) estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	charCount := utf8.RuneCountInString(text)
	ratio := tc.charsPerToken()
	tokens := int(float64(charCount) / ratio)
	if tokens == 0 {
		return 1
	}
	return tokens
}

func (tc *TokenCounter) charsPerToken() float64 {
	switch tc.strategy {
	case StrategyTiktoken:
		return 3.3
	case StrategyAnthropic:
		return 3.5
	case StrategyGemini:
		return 4.0
	case StrategyMistral:
		return 3.8
	default:
		return 4.0
	}
}

func (tc *TokenCounter) messageOverhead() int {
	switch tc.strategy {
	case StrategyTiktoken, StrategyMistral:
		return 4
	case StrategyAnthropic, StrategyGemini:
		return 3
	default:
		return 4
	}
}
