package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watchBase = `
voice:
  style: cheerful
`

func writeConfig(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func newTestWatcher(t *testing.T, onChange func(old, new *Config)) (*Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chipi.yaml")
	writeConfig(t, path, watchBase, time.Now().Add(-time.Hour))
	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond), WithLoadOptions(WithProviders()))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_ReportsChange(t *testing.T) {
	t.Parallel()

	changes := make(chan ConfigDiff, 1)
	w, path := newTestWatcher(t, func(old, new *Config) {
		changes <- Diff(old, new)
	})
	if w.Current().Voice.Style != "cheerful" {
		t.Fatalf("initial style = %q", w.Current().Voice.Style)
	}

	writeConfig(t, path, "voice:\n  style: sad\n", time.Now())

	select {
	case d := <-changes:
		if !d.VoiceChanged || d.NewVoice.Style != "sad" {
			t.Fatalf("diff = %+v", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
	if w.Current().Voice.Style != "sad" {
		t.Fatalf("Current style = %q", w.Current().Voice.Style)
	}
}

func TestWatcher_IgnoresInvalidAndTouch(t *testing.T) {
	t.Parallel()

	called := make(chan struct{}, 1)
	w, path := newTestWatcher(t, func(_, _ *Config) { called <- struct{}{} })

	// Same content, new mtime.
	writeConfig(t, path, watchBase, time.Now())
	// Invalid content.
	writeConfig(t, path, "voice: {style_degree: 9}\n", time.Now().Add(time.Second))

	select {
	case <-called:
		t.Fatal("onChange called for a touch or an invalid file")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Voice.Style != "cheerful" {
		t.Fatal("invalid config replaced the current one")
	}
}

func TestNewWatcher_InvalidInitialFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chipi.yaml")
	writeConfig(t, path, "bogus: true\n", time.Now())
	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}
