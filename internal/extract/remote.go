package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

// Remote extracts meeting details with a language model.
type Remote struct {
	llm       llm.Provider
	dir       *directory.Directory
	maxTokens int
}

// NewRemote returns a Remote that includes dir in every prompt.
func NewRemote(p llm.Provider, dir *directory.Directory) (*Remote, error) {
	if p == nil {
		return nil, errors.New("extract: llm provider must not be nil")
	}
	if dir == nil {
		return nil, errors.New("extract: directory must not be nil")
	}
	return &Remote{llm: p, dir: dir, maxTokens: 300}, nil
}

// Extract sends transcript to the model and parses the reply.
func (r *Remote) Extract(ctx context.Context, transcript string) (meeting.ExtractedInfo, error) {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildPrompt(r.dir.JSON()),
		Messages:     []llm.Message{llm.UserMessage(transcript)},
		Temperature:  0.1,
		MaxTokens:    r.maxTokens,
		JSONObject:   true,
	})
	if err != nil {
		return meeting.ExtractedInfo{}, fmt.Errorf("extract: remote: %w", err)
	}
	if resp == nil {
		return meeting.ExtractedInfo{}, errors.New("extract: remote: nil response")
	}
	return ParseRecord(resp.Content)
}
