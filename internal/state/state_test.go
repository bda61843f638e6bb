package state

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/storage"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPersistersRoundTrip(t *testing.T) {
	db, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	testCases := []struct {
		name      string
		persister Persister
	}{
		{name: "JSON file", persister: NewFilePersister(filepath.Join(t.TempDir(), "state", "reader.json"))},
		{name: "YAML file", persister: NewFilePersister(filepath.Join(t.TempDir(), "state", "reader.yaml"))},
		{name: "SQLite", persister: NewSQLitePersister(db)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(tc.persister, quietLogger())
			if err != nil {
				t.Fatal(err)
			}
			if got := store.Settings(); got.FontSize != DefaultFontSize || got.Theme != ThemeLight {
				t.Fatalf("Expected defaults, got %+v", got)
			}

			anchor := position.Anchor{ChapterID: "c2", BlockID: "p5", BlockPosition: 50, UpdatedAt: time.UnixMilli(1_700_000_000_000).UTC()}
			if err := store.SetAnchor("b1", anchor); err != nil {
				t.Fatal(err)
			}
			if _, err := store.SetFontSize(22); err != nil {
				t.Fatal(err)
			}
			if err := store.SetBookLanguage("b1", "fr"); err != nil {
				t.Fatal(err)
			}
			if err := store.SetProgress("b1", Progress{ChapterIndex: 1, ChapterCount: 4, Fraction: 0.3}); err != nil {
				t.Fatal(err)
			}

			reloaded, err := NewStore(tc.persister, quietLogger())
			if err != nil {
				t.Fatal(err)
			}
			got, ok := reloaded.Anchor("b1")
			if !ok || !got.UpdatedAt.Equal(anchor.UpdatedAt) || got.BlockID != "p5" || got.BlockPosition != 50 {
				t.Errorf("Expected anchor %+v, got %+v", anchor, got)
			}
			if reloaded.Settings().FontSize != 22 {
				t.Errorf("Expected font size 22, got %d", reloaded.Settings().FontSize)
			}
			if lang, _ := reloaded.BookLanguage("b1"); lang != "fr" {
				t.Errorf("Expected book language fr, got %q", lang)
			}
			if p, _ := reloaded.Progress("b1"); p.ChapterIndex != 1 || p.Fraction != 0.3 {
				t.Errorf("Unexpected progress %+v", p)
			}
		})
	}
}

func TestBookLanguageFallback(t *testing.T) {
	store, _ := NewStore(nil, quietLogger())

	if _, ok := store.BookLanguage("b1"); ok {
		t.Fatal("Expected no language before any choice")
	}
	_ = store.SetLanguage("de")
	if lang, ok := store.BookLanguage("b1"); !ok || lang != "de" {
		t.Errorf("Expected global language de, got %q", lang)
	}
	_ = store.SetBookLanguage("b1", "es")
	if lang, _ := store.BookLanguage("b1"); lang != "es" {
		t.Errorf("Expected per-book language es, got %q", lang)
	}
}

func TestSetFontSizeClamps(t *testing.T) {
	store, _ := NewStore(nil, quietLogger())

	testCases := []struct {
		in, want int
	}{
		{in: 4, want: MinFontSize},
		{in: 20, want: 20},
		{in: 99, want: MaxFontSize},
	}
	for _, tc := range testCases {
		if got, _ := store.SetFontSize(tc.in); got != tc.want {
			t.Errorf("SetFontSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestForgetAnchorDropsBook(t *testing.T) {
	store, _ := NewStore(nil, quietLogger())
	_ = store.SetAnchor("b1", position.Anchor{ChapterID: "c1", BlockID: "p1"})
	_ = store.SetBookLanguage("b1", "fr")
	_ = store.SetProgress("b1", Progress{Fraction: 2})

	if p, _ := store.Progress("b1"); p.Fraction != 1 {
		t.Errorf("Expected fraction clamped to 1, got %v", p.Fraction)
	}

	_ = store.ForgetAnchor("b1")
	snap := store.Snapshot()
	if len(snap.Anchors)+len(snap.Progress)+len(snap.PerBookLanguages) != 0 {
		t.Errorf("Expected book state removed, got %+v", snap)
	}
}

type failingPersister struct{}

func (failingPersister) Load() (State, bool, error) { return State{}, false, nil }
func (failingPersister) Save(State) error          { return errors.New("read-only") }

func TestFailedSaveKeepsMemoryState(t *testing.T) {
	store, _ := NewStore(failingPersister{}, quietLogger())

	if err := store.SetAnchor("b1", position.Anchor{BlockID: "p1"}); err == nil {
		t.Fatal("Expected save error")
	}
	if a, ok := store.Anchor("b1"); !ok || a.BlockID != "p1" {
		t.Errorf("Expected in-memory anchor despite save failure, got %+v", a)
	}
}

var _ position.Local = (*Store)(nil)
