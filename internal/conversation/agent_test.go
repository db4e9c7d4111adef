package conversation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/meetvoice/internal/conversation"
	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/extract"
	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/llm/mock"
)

func newAgent(t *testing.T, p *mock.Provider) *conversation.Agent {
	t.Helper()
	dir := directory.Default()
	svc, err := extract.New(dir)
	if err != nil {
		t.Fatalf("extract.New: %v", err)
	}
	a, err := conversation.New(p, dir, conversation.WithBackfill(svc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

var history = []llm.Message{
	llm.AssistantMessage(conversation.Opening),
	llm.UserMessage("I met Phil from ABC VC"),
}

func TestNextTurn_Question(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []string{"  When would you like to meet Phil again?\n"}}
	a := newAgent(t, p)

	turn, err := a.NextTurn(context.Background(), history)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	q, ok := turn.(conversation.Question)
	if !ok {
		t.Fatalf("turn = %T, want Question", turn)
	}
	if q.Text != "When would you like to meet Phil again?" {
		t.Errorf("Text = %q", q.Text)
	}

	req := p.Calls()[0].Req
	if len(req.Messages) != 2 || !strings.Contains(req.SystemPrompt, "phil.anderson@abcvc.com") {
		t.Errorf("request = %+v", req)
	}
}

func TestNextTurn_ProposalIsBackfilled(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []string{"Great, here you go:\n```json\n{\"name\": \"Phil\", \"meetingTime\": \"tomorrow at 2pm\", \"duration\": 30}\n```"}}
	a := newAgent(t, p)

	turn, err := a.NextTurn(context.Background(), history)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	prop, ok := turn.(conversation.Proposal)
	if !ok {
		t.Fatalf("turn = %T, want Proposal", turn)
	}
	if got := meeting.Value(prop.Info.Email); got != "phil.anderson@abcvc.com" {
		t.Errorf("email = %q, want directory backfill", got)
	}
	if got := meeting.Value(prop.Info.Name); got != "Phil" {
		t.Errorf("name = %q, present fields must not be overwritten", got)
	}
	if got := meeting.Value(prop.Info.Duration); got != "30" {
		t.Errorf("duration = %q", got)
	}
	if prop.Raw == "" {
		t.Error("Raw reply not kept")
	}
}

func TestNextTurn_EmptyRecordIsQuestion(t *testing.T) {
	t.Parallel()
	a := newAgent(t, &mock.Provider{Responses: []string{`{"name": ""}`}})
	turn, err := a.NextTurn(context.Background(), history)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if _, ok := turn.(conversation.Question); !ok {
		t.Errorf("turn = %T, want Question", turn)
	}
}

func TestNextTurn_Errors(t *testing.T) {
	t.Parallel()

	t.Run("backend", func(t *testing.T) {
		t.Parallel()
		a := newAgent(t, &mock.Provider{CompleteErr: provider.ErrRateLimited})
		_, err := a.NextTurn(context.Background(), history)
		if !errors.Is(err, fault.ErrExtraction) || !errors.Is(err, provider.ErrRateLimited) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()
		a := newAgent(t, &mock.Provider{Responses: []string{"   "}})
		_, err := a.NextTurn(context.Background(), history)
		if !errors.Is(err, fault.ErrExtraction) || !errors.Is(err, provider.ErrEmptyResult) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		a := newAgent(t, &mock.Provider{CompleteErr: context.Canceled})
		_, err := a.NextTurn(context.Background(), history)
		if !errors.Is(err, fault.ErrCancelled) {
			t.Fatalf("err = %v, want Cancelled", err)
		}
	})

	t.Run("no history", func(t *testing.T) {
		t.Parallel()
		a := newAgent(t, &mock.Provider{})
		if _, err := a.NextTurn(context.Background(), nil); !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := conversation.New(nil, directory.Default()); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := conversation.New(&mock.Provider{}, nil); err == nil {
		t.Error("expected error for nil directory")
	}
}
