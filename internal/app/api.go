package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/meetvoice/internal/fault"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/registry"
	"github.com/MrWong99/meetvoice/internal/session"
	"github.com/MrWong99/meetvoice/pkg/audio"
)

// maxAudioBytes bounds an uploaded recording.
const maxAudioBytes = 32 << 20

// maxJSONBytes bounds a JSON request body.
const maxJSONBytes = 64 << 10

// defaultPCMSampleRate applies to raw PCM uploads without a sample_rate
// query parameter.
const defaultPCMSampleRate = 16000

// routes assembles the API mux.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", a.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", a.withSession(a.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", a.handleCloseSession)

	for name, cmd := range sessionCommands {
		mux.HandleFunc("POST /api/sessions/{id}/"+name, a.withSession(a.command(cmd)))
	}
	mux.HandleFunc("POST /api/sessions/{id}/audio", a.withSession(a.handleAudio))
	mux.HandleFunc("POST /api/sessions/{id}/transcript", a.withSession(a.handleTranscript))
	mux.HandleFunc("POST /api/sessions/{id}/respond", a.withSession(a.handleRespond))
	mux.HandleFunc("PUT /api/sessions/{id}/edit/{field}", a.withSession(a.handleEditField))
	mux.HandleFunc("GET /api/sessions/{id}/events", a.withSession(a.handleEvents))
	mux.HandleFunc("GET /api/sessions/{id}/speech", a.withSession(a.handleSpeech))

	mux.HandleFunc("GET /api/directory", a.handleDirectory)
	mux.HandleFunc("GET /api/contacts", a.handleContacts)
	mux.HandleFunc("GET /api/contacts/{id}/meetings", a.handleContactMeetings)
	mux.HandleFunc("GET /api/meetings/upcoming", a.handleUpcoming)
	mux.HandleFunc("POST /api/meetings/{id}/status", a.handleMeetingStatus)

	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	if a.mcp != nil {
		mux.Handle("/mcp", a.mcp.Handler())
	}
	return mux
}

// sessionCommands are the body-less session commands.
var sessionCommands = map[string]func(r *http.Request, s *session.Session) error{
	"start":   func(r *http.Request, s *session.Session) error { return s.Start(r.Context()) },
	"stop":    func(r *http.Request, s *session.Session) error { return s.Stop(r.Context()) },
	"approve": func(r *http.Request, s *session.Session) error { return s.Approve(r.Context()) },
	"edit":    func(_ *http.Request, s *session.Session) error { return s.BeginEdit() },
	"save":    func(_ *http.Request, s *session.Session) error { return s.SaveEdits() },
	"discard": func(_ *http.Request, s *session.Session) error { return s.CancelEdits() },
	"cancel": func(r *http.Request, s *session.Session) error {
		s.Cancel(r.Context())
		return nil
	},
	"reset": func(r *http.Request, s *session.Session) error {
		s.Reset(r.Context())
		return nil
	},
}

// ─── Sessions ────────────────────────────────────────────────────────────────

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession resolves the {id} path value to an open session.
func (a *App) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := a.sessions.Get(r.PathValue("id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		h(w, r, s)
	}
}

func (a *App) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Create()
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	observe.Logger(r.Context()).Info("session opened", "session_id", s.ID())
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (a *App) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.List())
}

func (a *App) handleGetSession(w http.ResponseWriter, _ *http.Request, s *session.Session) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *App) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// command adapts a session command to a handler that answers with the
// resulting snapshot.
func (a *App) command(fn func(*http.Request, *session.Session) error) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		respond(w, r, s, fn(r, s))
	}
}

type textRequest struct {
	Text string `json:"text"`
}

type valueRequest struct {
	Value string `json:"value"`
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, s, s.SubmitTranscript(r.Context(), req.Text))
}

func (a *App) handleRespond(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, s, s.Respond(r.Context(), req.Text))
}

func (a *App) handleEditField(w http.ResponseWriter, r *http.Request, s *session.Session) {
	field, err := meeting.ParseField(r.PathValue("field"))
	if err != nil {
		writeError(w, r, fault.Validation("app: edit field", "%v", err), nil)
		return
	}
	var req valueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, s, s.EditField(field, req.Value))
}

func (a *App) handleAudio(w http.ResponseWriter, r *http.Request, s *session.Session) {
	seg, err := readSegment(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, s, s.SubmitAudio(r.Context(), seg))
}

// errUnsupportedMedia is returned for uploads with an unknown Content-Type.
var errUnsupportedMedia = errors.New("app: unsupported audio content type")

// readSegment builds an audio segment from an upload. The format comes from
// the Content-Type; raw PCM takes sample_rate and channels query values.
func readSegment(r *http.Request) (audio.Segment, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return audio.Segment{}, fmt.Errorf("%w: %v", errUnsupportedMedia, err)
	}
	seg := audio.Segment{Channels: 1}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		seg.Format = audio.FormatWAV
	case "audio/webm", "video/webm":
		seg.Format = audio.FormatWebM
	case "audio/ogg":
		seg.Format = audio.FormatOGG
	case "audio/mpeg", "audio/mp3":
		seg.Format = audio.FormatMP3
	case "audio/pcm", "audio/l16", "application/octet-stream":
		seg.Format = audio.FormatPCM16
		seg.SampleRate = defaultPCMSampleRate
		q := r.URL.Query()
		if v := q.Get("sample_rate"); v != "" {
			if seg.SampleRate, err = strconv.Atoi(v); err != nil || seg.SampleRate <= 0 {
				return audio.Segment{}, fault.Validation("app: audio upload", "invalid sample_rate %q", v)
			}
		}
		if v := q.Get("channels"); v != "" {
			if seg.Channels, err = strconv.Atoi(v); err != nil || seg.Channels < 1 || seg.Channels > 2 {
				return audio.Segment{}, fault.Validation("app: audio upload", "invalid channels %q", v)
			}
		}
	default:
		return audio.Segment{}, fmt.Errorf("%w: %s", errUnsupportedMedia, mt)
	}

	seg.Data, err = io.ReadAll(io.LimitReader(r.Body, maxAudioBytes+1))
	if err != nil {
		return audio.Segment{}, fmt.Errorf("app: read audio: %w", err)
	}
	if len(seg.Data) > maxAudioBytes {
		return audio.Segment{}, fault.Validation("app: audio upload", "recording exceeds %d bytes", maxAudioBytes)
	}
	return seg, nil
}

// ─── Registry ────────────────────────────────────────────────────────────────

func (a *App) handleDirectory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.dir.All())
}

func (a *App) handleContacts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Contacts())
}

func (a *App) handleContactMeetings(w http.ResponseWriter, r *http.Request) {
	ms, err := a.registry.MeetingsByContact(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *App) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	ms := a.registry.UpcomingMeetings(a.clock())
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fault.Validation("app: upcoming meetings", "invalid limit %q", v), nil)
			return
		}
		if n > 0 && n < len(ms) {
			ms = ms[:n]
		}
	}
	writeJSON(w, http.StatusOK, ms)
}

type statusRequest struct {
	Status meeting.Status `json:"status"`
}

func (a *App) handleMeetingStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	m, err := a.registry.SetMeetingStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ─── Encoding ────────────────────────────────────────────────────────────────

// errorBody is the JSON shape of every failed API call.
type errorBody struct {
	Error   string            `json:"error"`
	Report  *fault.Report     `json:"report,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// respond answers a session command with the snapshot, or with the error and
// the snapshot so the client can render the session's report.
func respond(w http.ResponseWriter, r *http.Request, s *session.Session, err error) {
	snap := s.Snapshot()
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, snap *session.Snapshot) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Session: snap}
	if fault.KindOf(err, "") != "" {
		rep := fault.Message(err)
		body.Report = &rep
	}
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, registry.ErrNotFound), errors.Is(err, errNothingToSay):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errBadJSON):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrInvalidStep),
		errors.Is(err, audio.ErrRecordingActive),
		errors.Is(err, audio.ErrNotRecording),
		errors.Is(err, fault.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, session.ErrTranscriptTooShort), errors.Is(err, fault.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNoConversation), errors.Is(err, errNoSpeech), errors.Is(err, fault.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, fault.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrTranscription), errors.Is(err, fault.ErrExtraction), errors.Is(err, errSpeechFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errBadJSON is returned for request bodies that do not decode.
var errBadJSON = errors.New("app: malformed request body")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}
