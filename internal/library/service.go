// Package library is the in-process book service used for local runs: it
// serves EPUBs from a directory through the same operations the remote
// client offers, translating blocks with a TextTranslator and caching the
// results in SQLite.
package library

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/epub"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/storage"
	"github.com/condr-at/globoox-preview/internal/translation"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrChapterNotFound = errors.New("chapter not found")
)

const StatusReady = "ready"

type Options struct {
	Dir       string
	Languages []string
}

type chapterRef struct {
	bookID string
	index  int
}

type Service struct {
	dir        string
	languages  []string
	parser     *epub.Parser
	db         *storage.DB
	translator translation.TextTranslator
	logger     *logrus.Logger

	mu       sync.RWMutex
	books    map[string]*epub.Book
	chapters map[string]chapterRef
}

// NewService creates an empty library. translator may be nil, in which case
// every translation request yields error results and readers keep the
// source text.
func NewService(opts Options, parser *epub.Parser, db *storage.DB, translator translation.TextTranslator, logger *logrus.Logger) *Service {
	return &Service{
		dir:        opts.Dir,
		languages:  opts.Languages,
		parser:     parser,
		db:         db,
		translator: translator,
		logger:     logger,
		books:      make(map[string]*epub.Book),
		chapters:   make(map[string]chapterRef),
	}
}

// Load imports every .epub file in the library directory. Broken files are
// logged and skipped.
func (s *Service) Load() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.epub"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, err := s.AddFile(path); err != nil {
			s.logger.Warnf("Skipping %s: %v", path, err)
		}
	}
	s.logger.Infof("Library loaded: %d books from %s", s.Len(), s.dir)
	return nil
}

// AddFile imports one EPUB. Importing a book again replaces it.
func (s *Service) AddFile(path string) (*epub.Book, error) {
	book, err := s.parser.Open(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.books[book.ID]; ok {
		for _, ch := range old.Chapters {
			delete(s.chapters, ch.ID)
		}
	}
	s.books[book.ID] = book
	for i, ch := range book.Chapters {
		s.chapters[ch.ID] = chapterRef{bookID: book.ID, index: i}
	}
	return book, nil
}

// Remove drops a book from the library and deletes its file. Cached
// translations stay; they are keyed by content hash.
func (s *Service) Remove(bookID string) error {
	s.mu.Lock()
	book, ok := s.books[bookID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	for _, ch := range book.Chapters {
		delete(s.chapters, ch.ID)
	}
	delete(s.books, bookID)
	s.mu.Unlock()

	if err := os.Remove(book.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", book.FilePath, err)
	}
	s.logger.WithField("book_id", bookID).Info("Book removed from library")
	return nil
}

// Dir is where uploaded books are stored.
func (s *Service) Dir() string {
	return s.dir
}

func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// SignedIn is always true: the local library keeps positions for its one
// reader.
func (s *Service) SignedIn() bool { return true }

func (s *Service) FetchBooks(ctx context.Context) ([]content.Book, error) {
	s.mu.RLock()
	books := make([]content.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, s.describe(b))
	}
	s.mu.RUnlock()

	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

func (s *Service) FetchBook(ctx context.Context, bookID string) (content.Book, error) {
	book, err := s.book(bookID)
	if err != nil {
		return content.Book{}, err
	}
	return s.describe(book), nil
}

func (s *Service) FetchChapters(ctx context.Context, bookID string) ([]content.Chapter, error) {
	book, err := s.book(bookID)
	if err != nil {
		return nil, err
	}
	chapters := make([]content.Chapter, len(book.Chapters))
	for i, ch := range book.Chapters {
		chapters[i] = content.Chapter{ID: ch.ID, BookID: book.ID, Index: ch.Index, Title: ch.Title}
	}
	return chapters, nil
}

// FetchContent returns the chapter with every translation cached for lang
// already merged in.
func (s *Service) FetchContent(ctx context.Context, chapterID, lang string) ([]content.Block, error) {
	book, chapter, err := s.chapter(chapterID)
	if err != nil {
		return nil, err
	}
	blocks := slices.Clone(chapter.Blocks)
	if lang == "" || content.SameLanguage(lang, sourceLanguage(book)) {
		return blocks, nil
	}
	target := normalize(lang)

	for i, b := range blocks {
		if !b.Translatable() {
			continue
		}
		text, ok, err := s.db.GetTranslation(ctx, chapterID, b.ID, target, sourceHash(b.TranslationText()))
		if err != nil {
			return nil, err
		}
		if ok {
			blocks[i], _ = b.ApplyTranslation(text)
		}
	}
	return blocks, nil
}

// Translate emits one result per requested block, in request order.
func (s *Service) Translate(ctx context.Context, req translation.Request, onResult func(translation.Result)) error {
	book, chapter, err := s.chapter(req.ChapterID)
	if err != nil {
		return err
	}
	source := sourceLanguage(book)
	target := normalize(req.Lang)

	for _, id := range req.BlockIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.translateBlock(ctx, chapter, id, source, target)
		if err != nil {
			return err
		}
		onResult(result)
	}
	return nil
}

func (s *Service) translateBlock(ctx context.Context, chapter *epub.Chapter, id, source, target string) (translation.Result, error) {
	i := content.Find(chapter.Blocks, id)
	if i < 0 {
		return translation.Result{BlockID: id, Status: translation.StatusError}, nil
	}
	b := chapter.Blocks[i]
	text := b.TranslationText()
	if !b.Translatable() || strings.TrimSpace(text) == "" {
		return translation.Result{BlockID: id, Status: translation.StatusOK, Cache: translation.CacheHit}, nil
	}
	if content.SameLanguage(source, target) {
		return translation.Result{BlockID: id, Status: translation.StatusOK, Cache: translation.CacheHit, TranslatedText: text}, nil
	}

	hash := sourceHash(text)
	cached, ok, err := s.db.GetTranslation(ctx, chapter.ID, id, target, hash)
	if err != nil {
		s.logger.WithError(err).Warn("Translation cache lookup failed")
	}
	if ok {
		return translation.Result{BlockID: id, Status: translation.StatusOK, Cache: translation.CacheHit, TranslatedText: cached}, nil
	}

	if s.translator == nil {
		return translation.Result{BlockID: id, Status: translation.StatusError}, nil
	}
	translated, err := s.translator.TranslateText(ctx, text, source, target)
	if err != nil {
		if ctx.Err() != nil {
			return translation.Result{}, ctx.Err()
		}
		s.logger.WithFields(logrus.Fields{
			"chapter_id": chapter.ID,
			"block_id":   id,
			"lang":       target,
		}).WithError(err).Warn("Block translation failed")
		return translation.Result{BlockID: id, Status: translation.StatusError}, nil
	}

	if err := s.db.PutTranslation(ctx, chapter.ID, id, target, hash, translated); err != nil {
		s.logger.WithError(err).Warn("Failed to cache translation")
	}
	return translation.Result{BlockID: id, Status: translation.StatusOK, Cache: translation.CacheMiss, TranslatedText: translated}, nil
}

func (s *Service) FetchReadingPosition(ctx context.Context, bookID string) (position.Anchor, bool, error) {
	if _, err := s.book(bookID); err != nil {
		return position.Anchor{}, false, err
	}
	p, ok, err := s.db.GetPosition(ctx, bookID)
	if err != nil || !ok {
		return position.Anchor{}, false, err
	}
	return position.Anchor{
		ChapterID:     p.ChapterID,
		BlockID:       p.BlockID,
		BlockPosition: p.BlockPosition,
		Lang:          p.Lang,
		UpdatedAt:     p.UpdatedAt,
	}, true, nil
}

func (s *Service) SavePosition(ctx context.Context, bookID string, a position.Anchor) error {
	if _, err := s.book(bookID); err != nil {
		return err
	}
	lang := ""
	if a.Lang != "" {
		lang = normalize(a.Lang)
	}
	return s.db.PutPosition(ctx, storage.Position{
		BookID:        bookID,
		ChapterID:     a.ChapterID,
		BlockID:       a.BlockID,
		BlockPosition: a.BlockPosition,
		Lang:          lang,
		UpdatedAt:     a.UpdatedAt,
	})
}

func (s *Service) UpdateLanguage(ctx context.Context, bookID, lang string) error {
	if _, err := s.book(bookID); err != nil {
		return err
	}
	norm, err := content.NormalizeLang(lang)
	if err != nil {
		return err
	}
	return s.db.PutBookLanguage(ctx, bookID, norm)
}

// BookLanguage returns the language last selected for the book.
func (s *Service) BookLanguage(ctx context.Context, bookID string) (string, bool, error) {
	return s.db.GetBookLanguage(ctx, bookID)
}

// ReadAsset returns a media file of the book, such as an image.
func (s *Service) ReadAsset(bookID, name string) ([]byte, string, error) {
	book, err := s.book(bookID)
	if err != nil {
		return nil, "", err
	}
	return s.parser.ReadAsset(book.FilePath, name)
}

func (s *Service) book(bookID string) (*epub.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[bookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	return book, nil
}

func (s *Service) chapter(chapterID string) (*epub.Book, *epub.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.chapters[chapterID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrChapterNotFound, chapterID)
	}
	book := s.books[ref.bookID]
	return book, &book.Chapters[ref.index], nil
}

func (s *Service) describe(b *epub.Book) content.Book {
	langs := slices.Clone(s.languages)
	source := sourceLanguage(b)
	if !slices.Contains(langs, source) {
		langs = append([]string{source}, langs...)
	}
	return content.Book{
		ID:                 b.ID,
		Title:              b.Metadata.Title,
		Author:             b.Metadata.Creator,
		OriginalLanguage:   source,
		AvailableLanguages: langs,
		Status:             StatusReady,
	}
}

func sourceLanguage(b *epub.Book) string {
	if lang, err := content.NormalizeLang(b.Metadata.Language); err == nil {
		return lang
	}
	return "en"
}

func normalize(lang string) string {
	if norm, err := content.NormalizeLang(lang); err == nil {
		return norm
	}
	return strings.ToLower(strings.TrimSpace(lang))
}

// sourceHash fingerprints block text so a cached translation is not served
// after the book is re-imported with different wording.
func sourceHash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
