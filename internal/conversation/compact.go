package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common tokenizers.
const charsPerToken = 4

const summaryPrompt = `Summarise the following conversation between a scheduling assistant and a user.
Preserve every detail about the person they met (name, email, phone, company) and
the requested follow-up (time, purpose, duration), plus any corrections the user made.
Be brief.`

// Summariser condenses a run of messages into a short text.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser summarises with a language model.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns an [LLMSummariser] backed by p.
func NewLLMSummariser(p llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: p}
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     []llm.Message{llm.UserMessage(sb.String())},
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: summarise: %w", err)
	}
	if resp == nil {
		return "", errors.New("conversation: summarise: nil response")
	}
	return strings.TrimSpace(resp.Content), nil
}

// Compactor keeps a conversation inside a token budget. When the estimated
// size exceeds ThresholdRatio × MaxTokens, the oldest half of the messages is
// replaced by one system message holding their summary.
type Compactor struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser
}

// NewCompactor returns a Compactor. A ratio of zero or less means 0.75.
func NewCompactor(maxTokens int, ratio float64, s Summariser) (*Compactor, error) {
	if maxTokens <= 0 {
		return nil, errors.New("conversation: compactor max tokens must be positive")
	}
	if s == nil {
		return nil, errors.New("conversation: compactor summariser must not be nil")
	}
	if ratio <= 0 {
		ratio = 0.75
	}
	return &Compactor{maxTokens: maxTokens, thresholdRatio: ratio, summariser: s}, nil
}

// Compact returns history unchanged while it fits the budget, otherwise a
// shortened copy. The most recent message is never summarised.
func (c *Compactor) Compact(ctx context.Context, history []llm.Message) ([]llm.Message, error) {
	threshold := int(float64(c.maxTokens) * c.thresholdRatio)
	if EstimateTokens(history) <= threshold || len(history) < 2 {
		return history, nil
	}

	half := len(history) / 2
	summary, err := c.summariser.Summarise(ctx, history[:half])
	if err != nil {
		return history, err
	}
	out := make([]llm.Message, 0, len(history)-half+1)
	out = append(out, llm.Message{
		Role:    llm.RoleSystem,
		Content: "[Previous conversation summary]: " + summary,
	})
	return append(out, history[half:]...), nil
}

// EstimateTokens returns a rough token count for msgs.
func EstimateTokens(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		chars := len(m.Content) + len(m.Role)
		tokens := chars / charsPerToken
		if tokens == 0 && chars > 0 {
			tokens = 1
		}
		total += tokens
	}
	return total
}
