package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/meetvoice/internal/app"
	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/registry"
	"github.com/MrWong99/meetvoice/internal/session"
	"github.com/MrWong99/meetvoice/pkg/audio"
	audiomock "github.com/MrWong99/meetvoice/pkg/audio/mock"
	sttmock "github.com/MrWong99/meetvoice/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/meetvoice/pkg/provider/tts/mock"
)

const philTranscript = "Hey, I just had a meeting with Phil from ABC VC fund... book a meeting with him tomorrow at 2pm"

var testNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

// ── Fixtures ─────────────────────────────────────────────────────────────────

// memJournal is an in-memory registry journal that also answers readiness
// pings.
type memJournal struct {
	mu      sync.Mutex
	changes []registry.Change
	pingErr error
}

func (j *memJournal) Apply(_ context.Context, ch registry.Change) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.changes = append(j.changes, ch)
	return nil
}

func (j *memJournal) Load(context.Context) ([]meeting.Contact, []meeting.Meeting, error) {
	return nil, nil, nil
}

func (j *memJournal) Ping(context.Context) error { return j.pingErr }

func (j *memJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.changes)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithClock(func() time.Time { return testNow }),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// client wraps an httptest server with JSON helpers.
type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newClient(t *testing.T, a *app.App) *client {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv}
}

func (c *client) do(method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.srv.URL+path, body)
	if err != nil {
		c.t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (c *client) json(method, path string, in any, wantStatus int, out any) {
	c.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	resp, data := c.do(method, path, "application/json", body)
	if resp.StatusCode != wantStatus {
		c.t.Fatalf("%s %s: status = %d, want %d; body = %s", method, path, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			c.t.Fatalf("decode %s: %v", data, err)
		}
	}
}

func (c *client) createSession() session.Snapshot {
	c.t.Helper()
	var snap session.Snapshot
	c.json(http.MethodPost, "/api/sessions", nil, http.StatusCreated, &snap)
	return snap
}

type errorBody struct {
	Error  string `json:"error"`
	Report *struct {
		Kind string `json:"kind"`
	} `json:"report"`
	Session *session.Snapshot `json:"session"`
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	if a.Handler() == nil || a.Sessions() == nil || a.Registry() == nil || a.Extractor() == nil {
		t.Fatal("New left a subsystem nil")
	}
	if a.Directory().Len() == 0 {
		t.Error("seed directory is empty")
	}
}

func TestNew_DirectoryFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	writeFile(t, path, "contacts:\n  - name: \"Maya Chen\"\n    email: \"maya@example.com\"\n    company: \"Orbit Labs\"\n")

	cfg := testConfig()
	cfg.Directory.File = path
	a := newApp(t, cfg, nil)
	if a.Directory().Len() != 1 {
		t.Fatalf("directory len = %d, want 1", a.Directory().Len())
	}
	if _, ok := a.Directory().FindByName("Maya"); !ok {
		t.Error("Maya not found")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
	cfg := testConfig()
	cfg.Directory.File = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Error("expected error for missing directory file")
	}
}

// ── Session flow ─────────────────────────────────────────────────────────────

func TestAPI_TranscriptToCommittedMeeting(t *testing.T) {
	t.Parallel()
	j := &memJournal{}
	a := newApp(t, testConfig(), nil, app.WithJournal(j))
	c := newClient(t, a)

	snap := c.createSession()
	if snap.Step != session.StepListening || snap.ID == "" {
		t.Fatalf("created snapshot = %+v", snap)
	}
	base := "/api/sessions/" + snap.ID

	c.json(http.MethodPost, base+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, &snap)
	if snap.Step != session.StepConfirming {
		t.Fatalf("step = %q, want confirming", snap.Step)
	}
	if got := meeting.Value(snap.Record.Email); got != "phil.anderson@abcvc.com" {
		t.Errorf("email = %q", got)
	}

	c.json(http.MethodPost, base+"/approve", nil, http.StatusOK, &snap)
	if snap.Step != session.StepCompleted {
		t.Fatalf("step = %q, want completed", snap.Step)
	}
	if !snap.IsNewContact || snap.Contact == nil || snap.Meeting == nil {
		t.Fatalf("commit result missing: %+v", snap)
	}
	if !strings.Contains(snap.Confirmation, "Phil Anderson") {
		t.Errorf("confirmation = %q", snap.Confirmation)
	}
	if j.count() != 1 {
		t.Errorf("journal changes = %d, want 1", j.count())
	}

	var contacts []meeting.Contact
	c.json(http.MethodGet, "/api/contacts", nil, http.StatusOK, &contacts)
	if len(contacts) != 1 || contacts[0].Email != "phil.anderson@abcvc.com" {
		t.Fatalf("contacts = %+v", contacts)
	}

	var meetings []meeting.Meeting
	c.json(http.MethodGet, "/api/contacts/"+contacts[0].ID+"/meetings", nil, http.StatusOK, &meetings)
	if len(meetings) != 1 || meetings[0].ID != snap.Meeting.ID {
		t.Fatalf("contact meetings = %+v", meetings)
	}

	c.json(http.MethodGet, "/api/meetings/upcoming", nil, http.StatusOK, &meetings)
	if len(meetings) != 1 {
		t.Fatalf("upcoming = %d, want 1", len(meetings))
	}

	var m meeting.Meeting
	c.json(http.MethodPost, "/api/meetings/"+snap.Meeting.ID+"/status", map[string]string{"status": "cancelled"}, http.StatusOK, &m)
	if m.Status != meeting.StatusCancelled {
		t.Errorf("status = %q", m.Status)
	}
	c.json(http.MethodGet, "/api/meetings/upcoming", nil, http.StatusOK, &meetings)
	if len(meetings) != 0 {
		t.Errorf("upcoming after cancel = %d, want 0", len(meetings))
	}

	c.json(http.MethodDelete, base, nil, http.StatusNoContent, nil)
	c.json(http.MethodGet, base, nil, http.StatusNotFound, nil)
}

func TestAPI_EditBeforeApprove(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	c := newClient(t, a)

	base := "/api/sessions/" + c.createSession().ID
	var snap session.Snapshot
	c.json(http.MethodPost, base+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, &snap)
	c.json(http.MethodPost, base+"/edit", nil, http.StatusOK, &snap)
	if !snap.Editing {
		t.Fatal("not editing after /edit")
	}
	c.json(http.MethodPut, base+"/edit/meetingPurpose", map[string]string{"value": "Series A follow-up"}, http.StatusOK, &snap)
	c.json(http.MethodPost, base+"/save", nil, http.StatusOK, &snap)
	if snap.Editing || meeting.Value(snap.Record.MeetingPurpose) != "Series A follow-up" {
		t.Fatalf("after save: %+v", snap)
	}
	c.json(http.MethodPost, base+"/approve", nil, http.StatusOK, &snap)
	if snap.Meeting == nil || snap.Meeting.Title != "Series A follow-up" {
		t.Fatalf("meeting = %+v", snap.Meeting)
	}
}

func TestAPI_Errors(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Session.MaxSessions = 1
	a := newApp(t, cfg, nil)
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		want        int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", "", http.StatusNotFound},
		{"session limit", http.MethodPost, "/api/sessions", "", "", http.StatusTooManyRequests},
		{"approve while listening", http.MethodPost, base + "/approve", "", "", http.StatusConflict},
		{"short transcript", http.MethodPost, base + "/transcript", "application/json", `{"text":"hi"}`, http.StatusUnprocessableEntity},
		{"malformed body", http.MethodPost, base + "/transcript", "application/json", `{"text":`, http.StatusBadRequest},
		{"unknown body field", http.MethodPost, base + "/transcript", "application/json", `{"txt":"hello there"}`, http.StatusBadRequest},
		{"unknown edit field", http.MethodPut, base + "/edit/shoeSize", "application/json", `{"value":"9"}`, http.StatusUnprocessableEntity},
		{"respond without conversation", http.MethodPost, base + "/respond", "application/json", `{"text":"yes"}`, http.StatusNotImplemented},
		{"start without capture", http.MethodPost, base + "/start", "", "", http.StatusNotImplemented},
		{"stop without recording", http.MethodPost, base + "/stop", "", "", http.StatusConflict},
		{"speech without tts", http.MethodGet, base + "/speech", "", "", http.StatusNotImplemented},
		{"unsupported audio", http.MethodPost, base + "/audio", "text/plain", "hello", http.StatusUnsupportedMediaType},
		{"unknown contact", http.MethodGet, "/api/contacts/nope/meetings", "", "", http.StatusNotFound},
		{"unknown meeting", http.MethodPost, "/api/meetings/nope/status", "application/json", `{"status":"completed"}`, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/meetings/upcoming?limit=x", "", "", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := c.do(tt.method, tt.path, tt.contentType, strings.NewReader(tt.body))
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", resp.StatusCode, tt.want, data)
			}
			var eb errorBody
			if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
				t.Errorf("error body = %s (%v)", data, err)
			}
		})
	}
}

func TestAPI_ApproveWithoutEmailReportsValidation(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	var snap session.Snapshot
	c.json(http.MethodPost, base+"/transcript", map[string]string{"text": "Book a meeting with Zed tomorrow at 4pm"}, http.StatusOK, &snap)
	if snap.Step != session.StepConfirming || snap.Record.Email != nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp, data := c.do(http.MethodPost, base+"/approve", "", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", resp.StatusCode, data)
	}
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eb.Report == nil || eb.Report.Kind != "validation_failed" {
		t.Errorf("report = %+v", eb.Report)
	}
	if eb.Session == nil || eb.Session.Step != session.StepConfirming {
		t.Errorf("session in error body = %+v", eb.Session)
	}
}

// ── Audio ────────────────────────────────────────────────────────────────────

func TestAPI_AudioUpload(t *testing.T) {
	t.Parallel()
	stt := &sttmock.Provider{Text: philTranscript}
	a := newApp(t, testConfig(), &app.Providers{STT: stt})
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	wav := audio.EncodeWAV(make([]byte, 3200), 16000, 1)
	resp, data := c.do(http.MethodPost, base+"/audio", "audio/wav", bytes.NewReader(wav))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; body = %s", resp.StatusCode, data)
	}
	if stt.CallCount() != 1 {
		t.Fatalf("stt calls = %d, want 1", stt.CallCount())
	}
	if got := stt.Calls[0].Segment.Format; got != audio.FormatWAV {
		t.Errorf("segment format = %q, want wav", got)
	}
	if !bytes.Equal(stt.Calls[0].Segment.Data, wav) {
		t.Error("segment data differs from upload")
	}
}

func TestAPI_RawPCMUpload(t *testing.T) {
	t.Parallel()
	stt := &sttmock.Provider{Text: philTranscript}
	a := newApp(t, testConfig(), &app.Providers{STT: stt})
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	resp, data := c.do(http.MethodPost, base+"/audio?sample_rate=48000&channels=2", "audio/pcm", bytes.NewReader(make([]byte, 960)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; body = %s", resp.StatusCode, data)
	}
	seg := stt.Calls[0].Segment
	if seg.Format != audio.FormatPCM16 || seg.SampleRate != 48000 || seg.Channels != 2 {
		t.Errorf("segment = %+v", seg)
	}
}

func TestAPI_RecordStartStop(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{
		Segment: audio.Segment{Data: []byte{1, 2, 3, 4}, Format: audio.FormatPCM16, SampleRate: 16000, Channels: 1},
		Started: make(chan struct{}, 1),
	}
	stt := &sttmock.Provider{Text: philTranscript}
	a := newApp(t, testConfig(), &app.Providers{STT: stt, Audio: src})
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	var snap session.Snapshot
	c.json(http.MethodPost, base+"/start", nil, http.StatusOK, &snap)
	if !snap.Recording {
		t.Fatal("not recording after /start")
	}
	select {
	case <-src.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture never started")
	}

	c.json(http.MethodPost, base+"/stop", nil, http.StatusOK, &snap)
	if snap.Recording || snap.Step != session.StepConfirming {
		t.Fatalf("after stop: recording=%v step=%q", snap.Recording, snap.Step)
	}
	if src.Released() != 1 {
		t.Errorf("device released %d times, want 1", src.Released())
	}
}

// ── Events and speech ────────────────────────────────────────────────────────

func TestEvents_StreamsSnapshots(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	c := newClient(t, a)
	id := c.createSession().ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(c.srv.URL, "http")+"/api/sessions/"+id+"/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var snap session.Snapshot
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if snap.ID != id || snap.Step != session.StepListening {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	c.json(http.MethodPost, "/api/sessions/"+id+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, nil)
	for snap.Step != session.StepConfirming {
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			t.Fatalf("read until confirming: %v", err)
		}
	}

	c.json(http.MethodDelete, "/api/sessions/"+id, nil, http.StatusNoContent, nil)
	for {
		err := wsjson.Read(ctx, conn, &snap)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
			t.Fatalf("close status = %v (err %v), want normal closure", got, err)
		}
		break
	}
}

func TestSpeech(t *testing.T) {
	t.Parallel()
	tts := &ttsmock.Provider{Audio: []byte("mp3-bytes"), ContentType: "audio/mpeg"}
	a := newApp(t, testConfig(), &app.Providers{TTS: tts})
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	resp, _ := c.do(http.MethodGet, base+"/speech", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("listening speech status = %d, want 404", resp.StatusCode)
	}

	c.json(http.MethodPost, base+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, nil)
	resp, data := c.do(http.MethodGet, base+"/speech", "", nil)
	if resp.StatusCode != http.StatusOK || string(data) != "mp3-bytes" {
		t.Fatalf("confirming speech = %d %q", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q", ct)
	}

	c.json(http.MethodPost, base+"/approve", nil, http.StatusOK, nil)
	c.do(http.MethodGet, base+"/speech", "", nil)

	if len(tts.Texts) != 2 {
		t.Fatalf("synthesized %d texts, want 2", len(tts.Texts))
	}
	if !strings.HasPrefix(tts.Texts[0], "Please confirm a meeting with Phil Anderson") {
		t.Errorf("read-back = %q", tts.Texts[0])
	}
	if !strings.HasPrefix(tts.Texts[1], "Meeting scheduled with Phil Anderson") {
		t.Errorf("confirmation = %q", tts.Texts[1])
	}
}

func TestSpeech_BackendFailure(t *testing.T) {
	t.Parallel()
	tts := &ttsmock.Provider{Err: errors.New("quota exceeded")}
	a := newApp(t, testConfig(), &app.Providers{TTS: tts})
	c := newClient(t, a)
	base := "/api/sessions/" + c.createSession().ID

	c.json(http.MethodPost, base+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, nil)
	if resp, _ := c.do(http.MethodGet, base+"/speech", "", nil); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

// ── Operational routes ───────────────────────────────────────────────────────

func TestReadyz_ReflectsJournal(t *testing.T) {
	t.Parallel()
	j := &memJournal{pingErr: errors.New("connection refused")}
	a := newApp(t, testConfig(), nil, app.WithJournal(j))
	c := newClient(t, a)

	if resp, _ := c.do(http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
	resp, data := c.do(http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(data), "connection refused") {
		t.Errorf("readyz = %d %s", resp.StatusCode, data)
	}
}

func TestRoutes_MetricsAndMCP(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MCP.Enabled = true
	a := newApp(t, cfg, nil)
	c := newClient(t, a)

	if resp, _ := c.do(http.MethodGet, "/metrics", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
	if resp, _ := c.do(http.MethodGet, "/mcp", "", nil); resp.StatusCode == http.StatusNotFound {
		t.Error("/mcp not routed")
	}
	if resp, _ := c.do(http.MethodGet, "/api/directory", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("directory = %d", resp.StatusCode)
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_WatchesDirectoryFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	writeFile(t, path, "contacts:\n  - name: \"Maya Chen\"\n    email: \"maya@example.com\"\n")

	cfg := testConfig()
	cfg.Directory.File = path
	cfg.Directory.Watch = true
	a := newApp(t, cfg, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "contacts:\n  - name: \"Maya Chen\"\n    email: \"maya@example.com\"\n  - name: \"Ravi Patel\"\n    email: \"ravi@example.com\"\n")

	deadline := time.Now().Add(3 * time.Second)
	for a.Directory().Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("directory len = %d, want 2 after reload", a.Directory().Len())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	old := testConfig()
	a := newApp(t, old, nil, app.WithLogLevel(&level))
	c := newClient(t, a)

	before := c.createSession()
	if _, ok := a.Directory().FindByName("Emilie"); ok {
		t.Fatal("phonetic matching should start disabled")
	}

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Session.MinTranscriptChars = 200
	updated.Directory.Phonetic = true
	a.ApplyConfig(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if _, ok := a.Directory().FindByName("Emilie"); !ok {
		t.Error("phonetic matching not enabled")
	}

	after := c.createSession()
	resp, _ := c.do(http.MethodPost, "/api/sessions/"+after.ID+"/transcript", "application/json",
		strings.NewReader(`{"text":"`+philTranscript+`"}`))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("new session status = %d, want 422 under the raised minimum", resp.StatusCode)
	}
	c.json(http.MethodPost, "/api/sessions/"+before.ID+"/transcript", map[string]string{"text": philTranscript}, http.StatusOK, nil)
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	c := newClient(t, a)
	id := c.createSession().ID

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	c.json(http.MethodGet, "/api/sessions/"+id, nil, http.StatusNotFound, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
