// Package conversation runs the multi-turn scheduling dialogue.
//
// Each model reply is either a follow-up question or a finished meeting
// record. [Agent.NextTurn] always tries the structured parse first and only
// treats the reply as a question when no record with at least one field can
// be read from it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/extract"
	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
)

// Opening is the first assistant line of every conversation.
const Opening = "Hi! Who did you meet, and when would you like the follow-up meeting?"

const systemPrompt = `You help a busy founder log a meeting and book a follow-up by voice.

Ask short, friendly questions, one at a time, until you know who they met and
when the follow-up should happen. Purpose, duration, phone and company are
nice to have; ask about them only if the user seems willing.

When you have enough information, reply with exactly one JSON object and
nothing else, using only these keys:
  "name", "email", "phone", "company", "meetingTime", "meetingPurpose", "duration"
Omit keys you do not know. If the person or company matches one of the known
contacts below, copy name, email, phone and company from that entry. Never
invent an email address.

Known contacts:
%DIRECTORY%`

// Turn is the outcome of one model reply: a [Question] or a [Proposal].
type Turn interface {
	isTurn()
}

// Question is a conversational follow-up to show or speak to the user.
type Question struct {
	Text string
}

// Proposal is a finished record ready for confirmation. Raw is the reply it
// was parsed from, kept for the conversation history.
type Proposal struct {
	Info meeting.ExtractedInfo
	Raw  string
}

func (Question) isTurn() {}
func (Proposal) isTurn() {}

// Backfiller completes identity fields from the directory.
type Backfiller interface {
	Backfill(info *meeting.ExtractedInfo)
}

// Option configures an Agent.
type Option func(*Agent)

// WithBackfill runs b on every proposal.
func WithBackfill(b Backfiller) Option {
	return func(a *Agent) { a.backfill = b }
}

// WithCompactor shortens long histories before they are sent.
func WithCompactor(c *Compactor) Option {
	return func(a *Agent) { a.compactor = c }
}

// WithMaxTokens bounds the length of each reply. Default: 400.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// Agent drives the dialogue with a language model.
type Agent struct {
	llm       llm.Provider
	dir       *directory.Directory
	backfill  Backfiller
	compactor *Compactor
	maxTokens int
}

// New returns an Agent that includes dir in its system prompt.
func New(p llm.Provider, dir *directory.Directory, opts ...Option) (*Agent, error) {
	if p == nil {
		return nil, errors.New("conversation: llm provider must not be nil")
	}
	if dir == nil {
		return nil, errors.New("conversation: directory must not be nil")
	}
	a := &Agent{llm: p, dir: dir, maxTokens: 400}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// NextTurn sends history to the model and classifies the reply. Backend
// failures and empty replies are ExtractionFailed faults.
func (a *Agent) NextTurn(ctx context.Context, history []llm.Message) (Turn, error) {
	const op = "conversation: next turn"
	if len(history) == 0 {
		return nil, fault.Validation(op, "history must not be empty")
	}

	if a.compactor != nil {
		compacted, err := a.compactor.Compact(ctx, history)
		if err != nil {
			observe.Logger(ctx).Warn("conversation: history compaction failed, sending full history", "err", err)
		}
		history = compacted
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: strings.Replace(systemPrompt, "%DIRECTORY%", a.dir.JSON(), 1),
		Messages:     history,
		Temperature:  0.4,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		return nil, fault.Wrap(op, err, fault.ExtractionFailed)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fault.New(fault.ExtractionFailed, op, fmt.Errorf("%w: empty reply", provider.ErrEmptyResult))
	}
	return a.classify(resp.Content), nil
}

func (a *Agent) classify(reply string) Turn {
	info, err := extract.ParseRecord(reply)
	if err != nil || info.Empty() {
		return Question{Text: strings.TrimSpace(reply)}
	}
	info.Normalize()
	if a.backfill != nil {
		a.backfill.Backfill(&info)
	}
	return Proposal{Info: info, Raw: reply}
}
