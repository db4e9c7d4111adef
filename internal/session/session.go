// Package session implements the per-user scheduling state machine.
//
// A Session moves through the steps
//
//	listening → processing → confirming → scheduling → completed
//
// with error reachable from any step and an editing sub-mode inside
// confirming. External calls (capture, transcription, extraction, the
// conversation model and the registry commit) run without the session lock
// held; while one is in flight every other submit returns [ErrBusy]. Reset
// and Cancel cancel the in-flight call and bump a generation counter so that
// late results are dropped instead of applied.
//
// All exported methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/meetvoice/internal/confirm"
	"github.com/MrWong99/meetvoice/internal/conversation"
	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/registry"
	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
)

// Step is the externally visible state of a Session.
type Step string

const (
	StepListening  Step = "listening"
	StepProcessing Step = "processing"
	StepConfirming Step = "confirming"
	StepScheduling Step = "scheduling"
	StepCompleted  Step = "completed"
	StepError      Step = "error"
)

// DefaultMinTranscriptChars is the shortest transcript, in runes, that is
// passed on to extraction.
const DefaultMinTranscriptChars = 10

var (
	// ErrBusy is returned when a command arrives while an external call is
	// in flight.
	ErrBusy = errors.New("session: busy")

	// ErrInvalidStep is returned when a command is not allowed in the
	// current step.
	ErrInvalidStep = errors.New("session: command not allowed in current step")

	// ErrTranscriptTooShort is returned when a transcript is below the
	// minimum length. The session stays in listening.
	ErrTranscriptTooShort = errors.New("session: transcript too short")

	// ErrNoConversation is returned by Respond when no conversation agent is
	// configured.
	ErrNoConversation = errors.New("session: conversation mode is not configured")

	// ErrClosed is returned by every command after Close.
	ErrClosed = errors.New("session: closed")
)

// Extractor turns a transcript into a partial record.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (meeting.ExtractedInfo, error)
}

// Committer applies a confirmed record to the registry.
type Committer interface {
	Commit(ctx context.Context, info meeting.ExtractedInfo, now time.Time) (registry.CommitResult, error)
}

// Conversation produces the next dialogue turn.
type Conversation interface {
	NextTurn(ctx context.Context, history []llm.Message) (conversation.Turn, error)
}

// Config holds the collaborators of a Session. Extractor and Registry are
// required.
type Config struct {
	Extractor Extractor
	Registry  Committer

	// Recorder captures microphone audio for Start/Stop. Nil disables
	// recording; audio can still be submitted directly.
	Recorder *audio.Recorder

	// STT transcribes submitted and recorded audio.
	STT stt.Provider

	// Conversation enables Respond. When ConversationMode is also set,
	// transcribed audio is routed to the conversation instead of direct
	// extraction.
	Conversation     Conversation
	ConversationMode bool

	// Vocabulary returns recogniser hints (directory names and companies).
	Vocabulary func() []string

	// Language is the transcription language hint.
	Language string

	// MinTranscriptChars overrides DefaultMinTranscriptChars when positive.
	MinTranscriptChars int

	Metrics *observe.Metrics
	Clock   func() time.Time
}

// Session is one scheduling conversation.
type Session struct {
	id  string
	cfg Config

	mu      sync.Mutex
	closed  bool
	gen     uint64
	cancel  context.CancelFunc
	busy    bool
	resume  Step
	rec     bool
	step    Step
	editing bool

	record       meeting.ExtractedInfo
	edit         meeting.ExtractedInfo
	transcript   string
	question     string
	history      []llm.Message
	contact      *meeting.Contact
	meeting      *meeting.Meeting
	isNew        bool
	report       *fault.Report
	confirmation string
	updated      time.Time

	subs   map[int]chan Snapshot
	nextID int
}

// New returns a Session in the listening step.
func New(id string, cfg Config) (*Session, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("session: extractor must not be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: registry must not be nil")
	}
	if cfg.ConversationMode && cfg.Conversation == nil {
		return nil, errors.New("session: conversation mode requires a conversation agent")
	}
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Session{id: id, cfg: cfg, subs: make(map[int]chan Snapshot)}
	s.clearLocked(true)
	cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) logger(ctx context.Context) *slog.Logger {
	return observe.Logger(observe.WithSessionID(ctx, s.id))
}

// ── Recording ──────────────────────────────────────────────────────────────

// Start begins a microphone recording.
func (s *Session) Start(ctx context.Context) error {
	const op = "session: start"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardSubmitLocked(); err != nil {
		return err
	}
	if s.cfg.Recorder == nil {
		return fault.New(fault.UnsupportedEnvironment, op, audio.ErrUnsupported)
	}
	// The capture outlives the request that started it.
	if err := s.cfg.Recorder.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.rec = true
	s.report = nil
	s.notifyLocked()
	s.logger(ctx).Info("recording started")
	return nil
}

// Stop ends the recording and runs the captured audio through the pipeline.
func (s *Session) Stop(ctx context.Context) error {
	const op = "session: stop"
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.rec {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, audio.ErrNotRecording)
	}
	s.rec = false
	ctx, gen := s.beginLocked(ctx, s.step)
	s.notifyLocked()
	s.mu.Unlock()

	seg, err := s.cfg.Recorder.Stop(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.currentLocked(gen) {
			return fault.New(fault.Cancelled, op, context.Canceled)
		}
		s.endLocked()
		return s.failLocked(ctx, op, err, fault.TranscriptionFailed)
	}
	return s.transcribe(ctx, gen, seg)
}

// ── Submissions ────────────────────────────────────────────────────────────

// SubmitAudio transcribes seg and processes the transcript.
func (s *Session) SubmitAudio(ctx context.Context, seg audio.Segment) error {
	s.mu.Lock()
	if err := s.guardSubmitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, gen := s.beginLocked(ctx, s.step)
	s.notifyLocked()
	s.mu.Unlock()
	return s.transcribe(ctx, gen, seg)
}

// SubmitTranscript processes an already transcribed utterance.
func (s *Session) SubmitTranscript(ctx context.Context, text string) error {
	s.mu.Lock()
	if err := s.guardSubmitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, gen := s.beginLocked(ctx, s.step)
	return s.acceptTranscriptLocked(ctx, gen, text)
}

// Respond sends a user reply to the conversation agent.
func (s *Session) Respond(ctx context.Context, text string) error {
	const op = "session: respond"
	s.mu.Lock()
	if s.cfg.Conversation == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}
	if err := s.guardSubmitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.mu.Unlock()
		return fault.Validation(op, "reply must not be empty")
	}
	ctx, gen := s.beginLocked(ctx, s.step)
	s.transcript = text
	s.history = append(s.history, llm.UserMessage(text))
	s.step = StepProcessing
	s.notifyLocked()
	s.mu.Unlock()
	return s.converse(ctx, gen)
}

func (s *Session) transcribe(ctx context.Context, gen uint64, seg audio.Segment) error {
	const op = "session: transcribe"
	if s.cfg.STT == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.currentLocked(gen) {
			return fault.New(fault.Cancelled, op, context.Canceled)
		}
		s.endLocked()
		return s.failLocked(ctx, op, errors.New("no transcription backend configured"), fault.UnsupportedEnvironment)
	}

	var vocab []string
	if s.cfg.Vocabulary != nil {
		vocab = s.cfg.Vocabulary()
	}
	text, err := s.cfg.STT.Transcribe(ctx, seg, stt.Options{Language: s.cfg.Language, Vocabulary: vocab})

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return fault.New(fault.Cancelled, op, context.Canceled)
	}
	if err != nil {
		defer s.mu.Unlock()
		s.endLocked()
		return s.failLocked(ctx, op, err, fault.TranscriptionFailed)
	}
	return s.acceptTranscriptLocked(ctx, gen, text)
}

// acceptTranscriptLocked decides what happens to a finished transcript. It
// must be called with s.mu held and a call begun; it releases s.mu.
func (s *Session) acceptTranscriptLocked(ctx context.Context, gen uint64, text string) error {
	text = strings.TrimSpace(text)
	s.transcript = text

	if s.cfg.ConversationMode {
		if text == "" {
			s.endLocked()
			s.notifyLocked()
			s.mu.Unlock()
			return ErrTranscriptTooShort
		}
		s.history = append(s.history, llm.UserMessage(text))
		s.step = StepProcessing
		s.notifyLocked()
		s.mu.Unlock()
		return s.converse(ctx, gen)
	}

	if n := utf8.RuneCountInString(text); n < s.cfg.MinTranscriptChars {
		s.endLocked()
		s.notifyLocked()
		s.mu.Unlock()
		return fmt.Errorf("%w: %d of %d characters", ErrTranscriptTooShort, n, s.cfg.MinTranscriptChars)
	}
	s.step = StepProcessing
	s.notifyLocked()
	s.mu.Unlock()
	return s.extract(ctx, gen, text)
}

func (s *Session) extract(ctx context.Context, gen uint64, text string) error {
	const op = "session: extract"
	info, err := s.cfg.Extractor.Extract(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return fault.New(fault.Cancelled, op, context.Canceled)
	}
	s.endLocked()
	if err != nil {
		return s.failLocked(ctx, op, err, fault.ExtractionFailed)
	}
	s.record = info
	s.step = StepConfirming
	s.notifyLocked()
	s.logger(ctx).Info("extraction ready for confirmation", "empty", info.Empty())
	return nil
}

func (s *Session) converse(ctx context.Context, gen uint64) error {
	const op = "session: converse"
	s.mu.Lock()
	history := append([]llm.Message(nil), s.history...)
	s.mu.Unlock()

	turn, err := s.cfg.Conversation.NextTurn(ctx, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return fault.New(fault.Cancelled, op, context.Canceled)
	}
	s.endLocked()
	if err != nil {
		return s.failLocked(ctx, op, err, fault.ExtractionFailed)
	}
	switch t := turn.(type) {
	case conversation.Question:
		s.history = append(s.history, llm.AssistantMessage(t.Text))
		s.question = t.Text
		s.step = StepListening
	case conversation.Proposal:
		s.history = append(s.history, llm.AssistantMessage(t.Raw))
		s.question = ""
		s.record = t.Info
		s.step = StepConfirming
	default:
		return s.failLocked(ctx, op, fmt.Errorf("unexpected turn %T", turn), fault.ExtractionFailed)
	}
	s.notifyLocked()
	return nil
}

// ── Confirmation ───────────────────────────────────────────────────────────

// Approve commits the working record. A record without an email is rejected
// with a ValidationFailed fault and the session stays in confirming.
func (s *Session) Approve(ctx context.Context) error {
	const op = "session: approve"
	s.mu.Lock()
	if err := s.guardConfirmLocked(false); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.record.Email == nil {
		err := fault.Validation(op, "email is required")
		r := fault.Message(err)
		s.report = &r
		s.notifyLocked()
		s.mu.Unlock()
		return err
	}
	info := s.record.Clone()
	ctx, gen := s.beginLocked(ctx, StepConfirming)
	s.step = StepScheduling
	s.report = nil
	s.notifyLocked()
	s.mu.Unlock()

	res, err := s.cfg.Registry.Commit(ctx, info, s.cfg.Clock())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return fault.New(fault.Cancelled, op, context.Canceled)
	}
	s.endLocked()
	if err != nil {
		return s.failLocked(ctx, op, err, fault.RegistryInvariantViolation)
	}
	s.contact = &res.Contact
	s.meeting = &res.Meeting
	s.isNew = res.IsNew
	s.confirmation = confirm.Format(res.Contact, res.Meeting, res.IsNew)
	s.step = StepCompleted
	s.notifyLocked()
	s.cfg.Metrics.RecordCommit(ctx, res.IsNew)
	s.logger(ctx).Info("meeting scheduled",
		"contact_id", res.Contact.ID, "meeting_id", res.Meeting.ID, "new_contact", res.IsNew)
	return nil
}

// BeginEdit opens the editing sub-mode on a copy of the working record.
func (s *Session) BeginEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardConfirmLocked(false); err != nil {
		return err
	}
	s.editing = true
	s.edit = s.record.Clone()
	s.notifyLocked()
	return nil
}

// EditField sets field on the edit copy. An empty value clears it.
func (s *Session) EditField(field meeting.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardConfirmLocked(true); err != nil {
		return err
	}
	if err := s.edit.Set(field, value); err != nil {
		return fault.Validation("session: edit field", "%v", err)
	}
	s.notifyLocked()
	return nil
}

// SaveEdits replaces the working record with the edit copy.
func (s *Session) SaveEdits() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardConfirmLocked(true); err != nil {
		return err
	}
	s.record = s.edit.Clone()
	s.record.Normalize()
	s.edit = meeting.ExtractedInfo{}
	s.editing = false
	s.report = nil
	s.notifyLocked()
	return nil
}

// CancelEdits discards the edit copy.
func (s *Session) CancelEdits() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardConfirmLocked(true); err != nil {
		return err
	}
	s.edit = meeting.ExtractedInfo{}
	s.editing = false
	s.notifyLocked()
	return nil
}

// ── Cancellation ───────────────────────────────────────────────────────────

// Cancel aborts any recording or in-flight call, discards the working
// record and the transcript, and returns to listening. The conversation
// history is kept so a rejected proposal can be refined in the next reply.
// Nothing is committed.
func (s *Session) Cancel(ctx context.Context) {
	s.abort(ctx, false)
}

// Reset is Cancel plus a fresh start: transcript, results, error and
// conversation history are cleared as well.
func (s *Session) Reset(ctx context.Context) {
	s.abort(ctx, true)
}

func (s *Session) abort(ctx context.Context, full bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasRecording := s.interruptLocked()
	s.clearLocked(full)
	s.notifyLocked()
	s.mu.Unlock()

	if wasRecording {
		s.cfg.Recorder.Abort()
	}
	s.logger(ctx).Info("session aborted", "reset", full)
}

// interruptLocked cancels the in-flight call and invalidates its result. It
// reports whether a recording of this session was running.
func (s *Session) interruptLocked() bool {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.busy = false
	rec := s.rec
	s.rec = false
	return rec
}

func (s *Session) clearLocked(full bool) {
	s.step = StepListening
	s.editing = false
	s.record = meeting.ExtractedInfo{}
	s.edit = meeting.ExtractedInfo{}
	s.contact = nil
	s.meeting = nil
	s.isNew = false
	s.report = nil
	s.confirmation = ""
	s.transcript = ""
	if !full {
		return
	}
	s.history = nil
	s.question = ""
	if s.cfg.Conversation != nil {
		s.history = []llm.Message{llm.AssistantMessage(conversation.Opening)}
		s.question = conversation.Opening
	}
}

// Close aborts all work, ends every subscription and releases the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasRecording := s.interruptLocked()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if wasRecording {
		s.cfg.Recorder.Abort()
	}
	s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
}

// ── Internal helpers ───────────────────────────────────────────────────────

func (s *Session) guardSubmitLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.busy || s.rec:
		return ErrBusy
	case s.step != StepListening:
		return fmt.Errorf("%w: %s", ErrInvalidStep, s.step)
	}
	return nil
}

func (s *Session) guardConfirmLocked(wantEditing bool) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.busy:
		return ErrBusy
	case s.step != StepConfirming:
		return fmt.Errorf("%w: %s", ErrInvalidStep, s.step)
	case s.editing != wantEditing:
		if s.editing {
			return fmt.Errorf("%w: editing in progress", ErrInvalidStep)
		}
		return fmt.Errorf("%w: not editing", ErrInvalidStep)
	}
	return nil
}

// beginLocked marks an external call as in flight and returns its context
// and generation. resume is the step restored if the call is cancelled.
func (s *Session) beginLocked(ctx context.Context, resume Step) (context.Context, uint64) {
	s.gen++
	ctx, cancel := context.WithCancel(observe.WithSessionID(ctx, s.id))
	s.cancel = cancel
	s.busy = true
	s.resume = resume
	s.report = nil
	return ctx, s.gen
}

func (s *Session) endLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.busy = false
}

func (s *Session) currentLocked(gen uint64) bool {
	return !s.closed && s.gen == gen
}

// failLocked classifies err and moves to the error step. A cancellation
// returns to the step the call started from instead.
func (s *Session) failLocked(ctx context.Context, op string, err error, fallback fault.Kind) error {
	ferr := fault.Wrap(op, err, fallback)
	kind := fault.KindOf(ferr, fallback)
	if kind == fault.Cancelled {
		s.step = s.resume
		s.notifyLocked()
		return ferr
	}
	r := fault.Message(ferr)
	s.report = &r
	s.step = StepError
	s.notifyLocked()
	s.cfg.Metrics.RecordSessionError(ctx, string(kind))
	s.logger(ctx).Warn("session failed", "kind", kind, "err", err)
	return ferr
}
