package navigation

import (
	"context"
	"errors"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/translation"
)

var ErrNoBook = errors.New("no book open")

// Source classifies what caused a navigation.
type Source string

const (
	SourceTOC           Source = "toc"
	SourceSearch        Source = "search"
	SourceSlider        Source = "slider"
	SourceLink          Source = "link"
	SourceRestoreAnchor Source = "restore_anchor"
	SourceManualScroll  Source = "manual_scroll"
)

// IsJump reports whether the navigation moves the reader somewhere
// non-adjacent. Jumps discard translation work queued for the old place.
func (s Source) IsJump() bool {
	return s != SourceManualScroll
}

// Valid reports whether s is a known navigation source.
func (s Source) Valid() bool {
	switch s {
	case SourceTOC, SourceSearch, SourceSlider, SourceLink, SourceRestoreAnchor, SourceManualScroll:
		return true
	}
	return false
}

// Target is a navigation destination. An empty ChapterID means the current
// chapter; an empty BlockID falls back to BlockPosition.
type Target struct {
	ChapterID     string `json:"chapter_id,omitempty"`
	BlockID       string `json:"block_id,omitempty"`
	BlockPosition int    `json:"block_position"`
}

// View is what the reader sees right now.
type View struct {
	BookID       string          `json:"book_id"`
	Title        string          `json:"title"`
	ChapterID    string          `json:"chapter_id"`
	ChapterTitle string          `json:"chapter_title"`
	ChapterIndex int             `json:"chapter_index"`
	ChapterCount int             `json:"chapter_count"`
	Lang         string          `json:"lang"`
	Dir          string          `json:"dir"`
	Page         int             `json:"page"`
	PageCount    int             `json:"page_count"`
	Blocks       []content.Block `json:"blocks"`
	Anchor       position.Anchor `json:"anchor"`
	Progress     float64         `json:"progress"`
	Busy         bool            `json:"busy"`
}

// ContentSource provides books and chapter content.
type ContentSource interface {
	FetchBook(ctx context.Context, bookID string) (content.Book, error)
	FetchChapters(ctx context.Context, bookID string) ([]content.Chapter, error)
	FetchContent(ctx context.Context, chapterID, lang string) ([]content.Block, error)
}

// LanguageUpdater records a book's reading language remotely.
type LanguageUpdater interface {
	UpdateLanguage(ctx context.Context, bookID, lang string) error
}

// Observer is told about view changes and merged translations. Calls come
// from navigation and translation goroutines; they must not block.
type Observer interface {
	ViewChanged(v View)
	BlockTranslated(chapterID string, b content.Block)
}

// Config holds the initial layout and translation window settings.
type Config struct {
	PageHeight    float64
	FontSize      int
	PrefetchPages int
	Scheduler     translation.Config
}

// DefaultConfig returns a 720px page at font size 18 prefetching two pages.
func DefaultConfig() Config {
	return Config{
		PageHeight:    720,
		FontSize:      18,
		PrefetchPages: 2,
		Scheduler:     translation.DefaultConfig(),
	}
}
