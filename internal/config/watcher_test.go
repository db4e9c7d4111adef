package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/meetvoice/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
directory:
  phonetic: false
session:
  min_transcript_chars: 12
`
	phoneticYAML = `
server:
  log_level: debug
directory:
  phonetic: true
session:
  min_transcript_chars: 20
`
	brokenYAML = `
server:
  log_level: bananas
`
)

const testDebounce = 20 * time.Millisecond

// reloads records every onChange invocation of a [config.Watcher].
type reloads struct {
	mu   sync.Mutex
	got  [][2]*config.Config
	seen chan struct{}
}

func newReloads() *reloads { return &reloads{seen: make(chan struct{}, 16)} }

func (r *reloads) record(old, new *config.Config) {
	r.mu.Lock()
	r.got = append(r.got, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// wait blocks until the next reload and returns its old and new configs.
func (r *reloads) wait(t *testing.T) (old, new *config.Config) {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.got[len(r.got)-1]
	return last[0], last[1]
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// startWatcher writes initial to a fresh config.yaml and watches it.
func startWatcher(t *testing.T, initial string) (string, *config.Watcher, *reloads) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, initial)
	r := newReloads()
	w, err := config.NewWatcher(path, r.record, config.WithDebounce(testDebounce))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, r
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, baseYAML)
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Directory.Phonetic || cfg.Session.MinTranscriptChars != 12 {
		t.Errorf("Current = %+v", cfg)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path, w, r := startWatcher(t, baseYAML)

	writeFile(t, path, phoneticYAML)
	old, cur := r.wait(t)
	if old.Directory.Phonetic || !cur.Directory.Phonetic {
		t.Errorf("phonetic %v -> %v, want false -> true", old.Directory.Phonetic, cur.Directory.Phonetic)
	}
	if cur.Server.LogLevel != config.LogDebug {
		t.Errorf("new log level = %q", cur.Server.LogLevel)
	}
	if w.Current() != cur {
		t.Error("Current does not return the reloaded config")
	}
}

func TestWatcher_ReloadsOnAtomicRename(t *testing.T) {
	t.Parallel()
	path, _, r := startWatcher(t, baseYAML)

	tmp := filepath.Join(filepath.Dir(path), ".config.yaml.swp")
	writeFile(t, tmp, phoneticYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, cur := r.wait(t); cur.Session.MinTranscriptChars != 20 {
		t.Errorf("min_transcript_chars = %d, want 20", cur.Session.MinTranscriptChars)
	}
}

func TestWatcher_IgnoresInvalidAndUnchangedFiles(t *testing.T) {
	t.Parallel()
	path, w, r := startWatcher(t, baseYAML)

	writeFile(t, path, brokenYAML)
	time.Sleep(250 * time.Millisecond)
	writeFile(t, path, baseYAML)
	time.Sleep(250 * time.Millisecond)

	if n := r.count(); n != 0 {
		t.Errorf("onChange fired %d times, want none", n)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("config replaced by an invalid file: %+v", w.Current().Server)
	}
}

func TestNewWatcher_InitialLoadErrors(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, brokenYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("invalid initial config accepted")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, baseYAML)
	w.Stop()
	w.Stop()
}

func TestWatchFile_OnlyReactsToItsOwnFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "directory.yaml")
	writeFile(t, path, "contacts: []")

	got := make(chan string, 4)
	fw, err := config.WatchFile(path, func(data []byte) error {
		got <- string(data)
		return nil
	}, config.WithDebounce(testDebounce))
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer fw.Stop()

	writeFile(t, filepath.Join(dir, "config.yaml"), "server: {}")
	time.Sleep(150 * time.Millisecond)
	select {
	case data := <-got:
		t.Fatalf("sibling write delivered %q", data)
	default:
	}

	const updated = "contacts: [{name: Sarah Chen}]"
	writeFile(t, path, updated)
	select {
	case data := <-got:
		if data != updated {
			t.Errorf("data = %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("own write not delivered")
	}
}

func TestWatchFile_RedeliversAfterRejection(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	writeFile(t, path, "contacts: []")

	var mu sync.Mutex
	calls := 0
	fw, err := config.WatchFile(path, func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("duplicate email")
	}, config.WithDebounce(testDebounce))
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer fw.Stop()

	const bad = "contacts: [{name: A, email: a@x.io}, {name: B, email: a@x.io}]"
	writeFile(t, path, bad)
	time.Sleep(250 * time.Millisecond)
	writeFile(t, path, bad)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("rejected content was not offered again")
}
