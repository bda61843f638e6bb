// Package state is the reader's local state container: global settings,
// per-book language choice, reading progress and the local tier of reading
// positions. Every mutation is written through to a Persister.
package state

import (
	"maps"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/position"
)

const (
	DefaultFontSize = 18
	MinFontSize     = 12
	MaxFontSize     = 32
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeSepia Theme = "sepia"
)

type Settings struct {
	FontSize int    `json:"font_size" yaml:"font_size"`
	Theme    Theme  `json:"theme" yaml:"theme"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// Progress summarises how far the reader is in a book.
type Progress struct {
	ChapterIndex int     `json:"chapter_index" yaml:"chapter_index"`
	ChapterCount int     `json:"chapter_count" yaml:"chapter_count"`
	Fraction     float64 `json:"fraction" yaml:"fraction"`
}

type State struct {
	Settings         Settings                   `json:"settings" yaml:"settings"`
	PerBookLanguages map[string]string          `json:"per_book_languages" yaml:"per_book_languages"`
	Progress         map[string]Progress        `json:"progress" yaml:"progress"`
	Anchors          map[string]position.Anchor `json:"anchors" yaml:"anchors"`
}

func New() State {
	return State{
		Settings:         Settings{FontSize: DefaultFontSize, Theme: ThemeLight},
		PerBookLanguages: make(map[string]string),
		Progress:         make(map[string]Progress),
		Anchors:          make(map[string]position.Anchor),
	}
}

func (s *State) fillDefaults() {
	if s.Settings.FontSize == 0 {
		s.Settings.FontSize = DefaultFontSize
	}
	if s.Settings.Theme == "" {
		s.Settings.Theme = ThemeLight
	}
	if s.PerBookLanguages == nil {
		s.PerBookLanguages = make(map[string]string)
	}
	if s.Progress == nil {
		s.Progress = make(map[string]Progress)
	}
	if s.Anchors == nil {
		s.Anchors = make(map[string]position.Anchor)
	}
}

func (s State) clone() State {
	return State{
		Settings:         s.Settings,
		PerBookLanguages: maps.Clone(s.PerBookLanguages),
		Progress:         maps.Clone(s.Progress),
		Anchors:          maps.Clone(s.Anchors),
	}
}

// Persister loads and saves the whole state.
type Persister interface {
	Load() (State, bool, error)
	Save(State) error
}

// Store holds the state in memory. It implements position.Local.
type Store struct {
	mu        sync.RWMutex
	state     State
	persister Persister
	logger    *logrus.Logger
}

// NewStore loads the persisted state. A nil persister keeps state in memory.
func NewStore(p Persister, logger *logrus.Logger) (*Store, error) {
	st := New()
	if p != nil {
		loaded, ok, err := p.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			loaded.fillDefaults()
			st = loaded
		}
	}
	return &Store{state: st, persister: p, logger: logger}, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// SetFontSize clamps size into the supported range and returns the value
// stored.
func (s *Store) SetFontSize(size int) (int, error) {
	size = min(max(size, MinFontSize), MaxFontSize)
	return size, s.update(func(st *State) { st.Settings.FontSize = size })
}

func (s *Store) SetTheme(theme Theme) error {
	return s.update(func(st *State) { st.Settings.Theme = theme })
}

// SetLanguage sets the default reading language for books without a
// per-book choice.
func (s *Store) SetLanguage(lang string) error {
	return s.update(func(st *State) { st.Settings.Language = lang })
}

// BookLanguage returns the language chosen for a book, falling back to the
// global setting.
func (s *Store) BookLanguage(bookID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lang, ok := s.state.PerBookLanguages[bookID]; ok {
		return lang, true
	}
	if s.state.Settings.Language != "" {
		return s.state.Settings.Language, true
	}
	return "", false
}

func (s *Store) SetBookLanguage(bookID, lang string) error {
	return s.update(func(st *State) { st.PerBookLanguages[bookID] = lang })
}

func (s *Store) Progress(bookID string) (Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.Progress[bookID]
	return p, ok
}

func (s *Store) SetProgress(bookID string, p Progress) error {
	p.Fraction = min(max(p.Fraction, 0), 1)
	return s.update(func(st *State) { st.Progress[bookID] = p })
}

func (s *Store) Anchor(bookID string) (position.Anchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.Anchors[bookID]
	return a, ok
}

func (s *Store) SetAnchor(bookID string, a position.Anchor) error {
	return s.update(func(st *State) { st.Anchors[bookID] = a })
}

// ForgetAnchor drops everything kept for the book.
func (s *Store) ForgetAnchor(bookID string) error {
	return s.update(func(st *State) {
		delete(st.Anchors, bookID)
		delete(st.Progress, bookID)
		delete(st.PerBookLanguages, bookID)
	})
}

// update applies fn and writes the result through. The in-memory change
// stands even when persisting fails.
func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	fn(&s.state)
	var snapshot State
	if s.persister != nil {
		snapshot = s.state.clone()
	}
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(snapshot); err != nil {
		s.logger.WithError(err).Warn("Failed to persist reader state")
		return err
	}
	return nil
}
