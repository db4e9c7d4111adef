package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/meetvoice/internal/confirm"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/session"
)

// eventWriteTimeout bounds a single snapshot write to a slow client.
const eventWriteTimeout = 5 * time.Second

// handleEvents upgrades to a WebSocket and streams a snapshot of the session
// after every change until the client disconnects or the session closes.
// Incoming messages are ignored.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request, s *session.Session) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("event stream upgrade failed", "session_id", s.ID(), "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx).With("session_id", s.ID())
	log.Debug("event stream opened")

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by client")
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, snap)
			wcancel()
			if err != nil {
				log.Debug("event stream write failed", "err", err)
				return
			}
		}
	}
}

// errNoSpeech is returned by the speech endpoint when no TTS provider is
// configured.
var errNoSpeech = errors.New("app: speech synthesis is not configured")

// errNothingToSay is returned when the session has no prompt to speak.
var errNothingToSay = errors.New("app: nothing to say in the current step")

// errSpeechFailed wraps a TTS backend failure.
var errSpeechFailed = errors.New("app: speech synthesis failed")

// handleSpeech synthesises what the session currently has to tell the user:
// the confirmation after a commit, the pending question, the error report
// or a read-back of the record awaiting confirmation.
func (a *App) handleSpeech(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if a.providers.TTS == nil {
		writeError(w, r, errNoSpeech, nil)
		return
	}
	text := spokenText(s.Snapshot())
	if text == "" {
		writeError(w, r, errNothingToSay, nil)
		return
	}

	speech, err := a.providers.TTS.Synthesize(r.Context(), text)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errSpeechFailed, err), nil)
		return
	}
	defer speech.Audio.Close()

	if speech.ContentType != "" {
		w.Header().Set("Content-Type", speech.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, speech.Audio); err != nil {
		observe.Logger(r.Context()).Warn("speech stream interrupted", "session_id", s.ID(), "err", err)
	}
}

// spokenText picks the prompt for snap.
func spokenText(snap session.Snapshot) string {
	switch {
	case snap.Step == session.StepCompleted && snap.Confirmation != "":
		return snap.Confirmation
	case snap.Error != nil:
		return snap.Error.Text()
	case snap.Question != "":
		return snap.Question
	case snap.Step == session.StepConfirming:
		return confirm.ReadBack(snap.Record)
	}
	return ""
}
