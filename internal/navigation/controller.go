// Package navigation turns reader intents into pagination, anchor and
// translation work for one open book.
package navigation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/paginator"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/state"
	"github.com/condr-at/globoox-preview/internal/translation"
)

// Controller owns the reader's place in one book.
//
// Lock order is navMu then mu. navMu serializes navigations, so pagination
// never runs twice at once; mu guards the fields below it and is also taken
// by translation merges. The scheduler is never called with mu held, since
// its merge callback takes mu.
type Controller struct {
	source    ContentSource
	languages LanguageUpdater
	positions *position.Store
	state     *state.Store
	scheduler *translation.Scheduler
	heights   *paginator.HeightRegistry
	cfg       Config
	logger    *logrus.Logger

	navMu sync.Mutex

	mu         sync.RWMutex
	observer   Observer
	book       *content.Book
	chapters   []content.Chapter
	chapterIdx int
	lang       string
	blocks     []content.Block
	pages      paginator.Pages
	page       int
	key        string
	measured   bool
	pageHeight float64
	fontSize   int
	anchor     position.Anchor
}

// NewController wires a controller. languages may be nil.
func NewController(source ContentSource, translator translation.Translator, languages LanguageUpdater,
	positions *position.Store, st *state.Store, cfg Config, logger *logrus.Logger) *Controller {
	if cfg.PageHeight <= 0 {
		cfg.PageHeight = DefaultConfig().PageHeight
	}
	if cfg.PrefetchPages < 0 {
		cfg.PrefetchPages = 0
	}
	fontSize := st.Settings().FontSize
	if fontSize == 0 {
		fontSize = cfg.FontSize
	}

	c := &Controller{
		source:     source,
		languages:  languages,
		positions:  positions,
		state:      st,
		heights:    paginator.NewHeightRegistry(),
		cfg:        cfg,
		logger:     logger,
		pageHeight: cfg.PageHeight,
		fontSize:   fontSize,
	}
	c.scheduler = translation.NewScheduler(translator, c.mergeTranslation, cfg.Scheduler, logger)
	return c
}

// Scheduler exposes the controller's translation scheduler for stats and
// broadcaster wiring.
func (c *Controller) Scheduler() *translation.Scheduler {
	return c.scheduler
}

// SetObserver registers the listener for view and translation events.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Open loads a book at the reader's saved place. A signed-in reader's remote
// anchor wins over the local one.
func (c *Controller) Open(ctx context.Context, bookID string) (View, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	book, err := c.source.FetchBook(ctx, bookID)
	if err != nil {
		return View{}, err
	}
	chapters, err := c.source.FetchChapters(ctx, bookID)
	if err != nil {
		return View{}, err
	}
	if len(chapters) == 0 {
		return View{}, fmt.Errorf("book %s has no chapters", bookID)
	}
	slices.SortFunc(chapters, func(a, b content.Chapter) int { return a.Index - b.Index })

	lang := book.OriginalLanguage
	if chosen, ok := c.state.BookLanguage(bookID); ok {
		lang = chosen
	}
	if norm, err := content.NormalizeLang(lang); err == nil {
		lang = norm
	}

	c.scheduler.AbortAll()

	anchor, hasAnchor := c.positions.Restore(ctx, bookID)
	chapterIdx := 0
	target := Target{}
	if hasAnchor {
		if i := chapterIndex(chapters, anchor.ChapterID); i >= 0 {
			chapterIdx = i
			target = Target{ChapterID: anchor.ChapterID, BlockID: anchor.BlockID, BlockPosition: anchor.BlockPosition}
		}
	}

	c.mu.Lock()
	c.book = &book
	c.chapters = chapters
	c.lang = lang
	c.chapterIdx = 0
	c.blocks = nil
	c.pages = nil
	c.anchor = position.Anchor{}
	c.mu.Unlock()

	if err := c.loadChapter(ctx, chapterIdx); err != nil {
		return View{}, err
	}

	page, res := c.resolve(target.BlockID, target.BlockPosition)
	c.logger.WithFields(logrus.Fields{
		"event":      "navigate",
		"source":     SourceRestoreAnchor,
		"book_id":    bookID,
		"chapter_id": chapters[chapterIdx].ID,
		"resolution": res.String(),
		"page":       page,
	}).Debug("Book opened")

	if hasAnchor && res == paginator.ResolvedExact {
		c.mu.Lock()
		c.anchor = anchor
		c.mu.Unlock()
		c.showPage(page, false)
	} else {
		c.showPage(page, true)
	}
	return c.View(), nil
}

// Navigate moves to target. Every source except manual_scroll is a jump: it
// drops queued translation work and commits the anchor before the target
// chapter is loaded, so the position survives a failed load.
func (c *Controller) Navigate(ctx context.Context, source Source, target Target) (View, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	return c.navigate(ctx, source, target)
}

func (c *Controller) navigate(ctx context.Context, source Source, target Target) (View, error) {
	if !source.Valid() {
		return View{}, fmt.Errorf("unknown navigation source %q", source)
	}

	c.mu.RLock()
	if c.book == nil {
		c.mu.RUnlock()
		return View{}, ErrNoBook
	}
	current := c.chapters[c.chapterIdx].ID
	targetIdx := c.chapterIdx
	if target.ChapterID != "" {
		targetIdx = chapterIndex(c.chapters, target.ChapterID)
	}
	c.mu.RUnlock()

	if targetIdx < 0 {
		return View{}, fmt.Errorf("chapter %s is not part of the book", target.ChapterID)
	}
	if target.ChapterID == "" {
		target.ChapterID = current
	}

	jumpToBlock := source.IsJump() && target.BlockID != ""
	if source.IsJump() {
		c.scheduler.AbortAll()
		if jumpToBlock {
			if target.ChapterID == current {
				if pos, ok := c.blockPosition(target.BlockID); ok {
					target.BlockPosition = pos
				}
			}
			c.commitAnchor(position.Anchor{
				ChapterID:     target.ChapterID,
				BlockID:       target.BlockID,
				BlockPosition: target.BlockPosition,
			})
		}
	}

	if target.ChapterID != current {
		if err := c.loadChapter(ctx, targetIdx); err != nil {
			return c.View(), err
		}
		// The caller's position is only a hint; the loaded content is
		// authoritative for the anchor's fallback position.
		if pos, ok := c.blockPosition(target.BlockID); ok && jumpToBlock && pos != target.BlockPosition {
			target.BlockPosition = pos
			c.commitAnchor(position.Anchor{
				ChapterID:     target.ChapterID,
				BlockID:       target.BlockID,
				BlockPosition: pos,
			})
		}
	}

	page, res := c.resolve(target.BlockID, target.BlockPosition)
	c.logger.WithFields(logrus.Fields{
		"event":      "navigate",
		"source":     source,
		"chapter_id": target.ChapterID,
		"block_id":   target.BlockID,
		"resolution": res.String(),
		"page":       page,
	}).Debug("Navigation resolved")

	// A jump to a known block keeps that block as the anchor; anything
	// else anchors on the first block of the new page.
	c.showPage(page, !jumpToBlock)
	return c.View(), nil
}

// JumpToPage moves to a page of the current chapter, as a slider does.
func (c *Controller) JumpToPage(ctx context.Context, source Source, pageIndex int) (View, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	c.mu.RLock()
	if c.book == nil {
		c.mu.RUnlock()
		return View{}, ErrNoBook
	}
	page := c.pages.Page(c.pages.Clamp(pageIndex))
	var target Target
	if len(page) > 0 {
		i := content.Find(c.blocks, page[0])
		target = Target{BlockID: page[0], BlockPosition: c.blocks[i].Position}
	}
	c.mu.RUnlock()

	return c.navigate(ctx, source, target)
}

// TurnPage moves delta pages as an organic page turn, crossing into the
// next or previous chapter at the edges. Queued translation work is kept.
func (c *Controller) TurnPage(ctx context.Context, delta int) (View, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	c.mu.RLock()
	if c.book == nil {
		c.mu.RUnlock()
		return View{}, ErrNoBook
	}
	next := c.page + delta
	pageCount := len(c.pages)
	chapterIdx := c.chapterIdx
	chapterCount := len(c.chapters)
	c.mu.RUnlock()

	switch {
	case next >= 0 && next < pageCount:
		c.showPage(next, true)
	case next >= pageCount && chapterIdx+1 < chapterCount:
		if err := c.loadChapter(ctx, chapterIdx+1); err != nil {
			return c.View(), err
		}
		c.showPage(0, true)
	case next < 0 && chapterIdx > 0:
		if err := c.loadChapter(ctx, chapterIdx-1); err != nil {
			return c.View(), err
		}
		c.mu.RLock()
		last := max(len(c.pages)-1, 0)
		c.mu.RUnlock()
		c.showPage(last, true)
	}
	return c.View(), nil
}

// SwitchLanguage reloads the current chapter in lang and puts the reader
// back on the equivalent content.
func (c *Controller) SwitchLanguage(ctx context.Context, lang string) (View, error) {
	norm, err := content.NormalizeLang(lang)
	if err != nil {
		return View{}, err
	}

	c.navMu.Lock()
	defer c.navMu.Unlock()

	c.mu.RLock()
	if c.book == nil {
		c.mu.RUnlock()
		return View{}, ErrNoBook
	}
	if c.lang == norm {
		c.mu.RUnlock()
		return c.View(), nil
	}
	bookID := c.book.ID
	chapter := c.chapters[c.chapterIdx]
	locked := c.anchor
	previous := c.lang
	c.mu.RUnlock()

	// The anchor must be durable before the reload in case the reload
	// fails or the process dies mid-switch.
	locked.Lang = norm
	c.commitAnchor(locked)
	c.positions.Flush()

	c.scheduler.AbortAll()
	blocks, err := c.source.FetchContent(ctx, chapter.ID, norm)
	if err != nil {
		locked.Lang = previous
		c.commitAnchor(locked)
		return c.View(), fmt.Errorf("failed to load %s content: %w", norm, err)
	}

	if err := c.state.SetBookLanguage(bookID, norm); err != nil {
		c.logger.WithError(err).Warn("Failed to store book language")
	}
	if c.languages != nil {
		if err := c.languages.UpdateLanguage(ctx, bookID, norm); err != nil {
			c.logger.WithError(err).WithField("book_id", bookID).Warn("Failed to update remote language preference")
		}
	}
	c.scheduler.Reset(chapter.ID, norm)
	c.heights.Reset()

	c.mu.Lock()
	c.lang = norm
	c.blocks = blocks
	c.paginateLocked()
	c.mu.Unlock()

	page, res := c.resolve(locked.BlockID, locked.BlockPosition)
	c.logger.WithFields(logrus.Fields{
		"event":      "language_switch",
		"book_id":    bookID,
		"lang":       norm,
		"resolution": res.String(),
		"page":       page,
	}).Info("Reading language switched")

	c.showPage(page, res != paginator.ResolvedExact)
	return c.View(), nil
}

// SetViewport changes the page capacity.
func (c *Controller) SetViewport(ctx context.Context, pageHeight float64) (View, error) {
	if pageHeight <= 0 {
		return View{}, fmt.Errorf("invalid page height %v", pageHeight)
	}
	c.navMu.Lock()
	defer c.navMu.Unlock()

	c.mu.Lock()
	c.pageHeight = pageHeight
	c.mu.Unlock()
	return c.relayout(), nil
}

// SetFontSize changes the font size. Heights measured at the old size are
// discarded.
func (c *Controller) SetFontSize(ctx context.Context, size int) (View, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	stored, err := c.state.SetFontSize(size)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to store font size")
	}

	c.mu.Lock()
	if c.fontSize != stored {
		c.heights.Reset()
		c.measured = false
	}
	c.fontSize = stored
	c.mu.Unlock()
	return c.relayout(), nil
}

// ReportHeights records measured block heights. Pages are not recomputed
// until Relayout or the next structural change.
func (c *Controller) ReportHeights(heights map[string]float64) {
	c.heights.ReportAll(heights)
	c.mu.Lock()
	c.measured = true
	c.mu.Unlock()
}

// Relayout recomputes pages with the heights measured so far, keeping the
// reader on the same content.
func (c *Controller) Relayout(ctx context.Context) View {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	return c.relayout()
}

func (c *Controller) relayout() View {
	c.mu.Lock()
	if c.book == nil {
		c.mu.Unlock()
		return View{}
	}
	changed := c.paginateLocked()
	anchor := c.anchor
	c.mu.Unlock()

	if !changed {
		return c.View()
	}
	page, _ := c.resolve(anchor.BlockID, anchor.BlockPosition)
	c.showPage(page, false)
	return c.View()
}

// View returns what the reader currently sees.
func (c *Controller) View() View {
	busy := c.scheduler.Busy()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked(busy)
}

// Close stops translation work and flushes pending position writes.
func (c *Controller) Close() {
	c.scheduler.Close()
	c.scheduler.Wait()
	c.positions.Flush()
}

// viewLocked takes busy from the caller because the scheduler must not be
// called with mu held.
func (c *Controller) viewLocked(busy bool) View {
	if c.book == nil {
		return View{}
	}
	chapter := c.chapters[c.chapterIdx]
	v := View{
		BookID:       c.book.ID,
		Title:        c.book.Title,
		ChapterID:    chapter.ID,
		ChapterTitle: chapter.Title,
		ChapterIndex: c.chapterIdx,
		ChapterCount: len(c.chapters),
		Lang:         c.lang,
		Dir:          "ltr",
		Page:         c.page,
		PageCount:    len(c.pages),
		Anchor:       c.anchor,
		Progress:     c.progressLocked(),
		Busy:         busy,
	}
	if content.IsRTL(c.lang) {
		v.Dir = "rtl"
	}
	for _, id := range c.pages.Page(c.page) {
		if i := content.Find(c.blocks, id); i >= 0 {
			v.Blocks = append(v.Blocks, c.blocks[i])
		}
	}
	return v
}

func (c *Controller) progressLocked() float64 {
	if len(c.chapters) == 0 {
		return 0
	}
	within := 0.0
	if len(c.pages) > 0 {
		within = float64(c.page+1) / float64(len(c.pages))
	}
	return (float64(c.chapterIdx) + within) / float64(len(c.chapters))
}

// loadChapter fetches a chapter in the current language and paginates it.
// The previous view stays in place if the fetch fails.
func (c *Controller) loadChapter(ctx context.Context, idx int) error {
	c.mu.RLock()
	chapter := c.chapters[idx]
	lang := c.lang
	c.mu.RUnlock()

	blocks, err := c.source.FetchContent(ctx, chapter.ID, lang)
	if err != nil {
		return fmt.Errorf("failed to load chapter %s: %w", chapter.ID, err)
	}
	if err := content.ValidateOrder(blocks); err != nil {
		c.logger.WithError(err).WithField("chapter_id", chapter.ID).Warn("Chapter blocks out of order")
	}

	c.scheduler.Reset(chapter.ID, lang)
	c.heights.Reset()

	c.mu.Lock()
	c.chapterIdx = idx
	c.blocks = blocks
	c.page = 0
	c.measured = false
	c.key = ""
	c.paginateLocked()
	c.mu.Unlock()
	return nil
}

// paginateLocked recomputes pages when the structural key changed or new
// heights were measured. It reports whether pages were recomputed.
func (c *Controller) paginateLocked() bool {
	chapter := c.chapters[c.chapterIdx]
	key := paginator.Key(chapter.ID, c.lang, c.blocks, c.pageHeight, c.fontSize)
	if key == c.key && !c.measured {
		return false
	}
	c.pages = paginator.ComputePages(c.blocks, c.heights.Snapshot(), c.pageHeight)
	c.key = key
	c.measured = false
	c.page = c.pages.Clamp(c.page)
	return true
}

func (c *Controller) resolve(blockID string, blockPosition int) (int, paginator.Resolution) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return paginator.Resolve(c.pages, c.blocks, blockID, blockPosition)
}

// showPage makes page current. With reanchor the anchor moves to the page's
// first block. Visible blocks are then queued for translation at high
// priority and the prefetch window at low priority.
func (c *Controller) showPage(page int, reanchor bool) {
	c.mu.Lock()
	c.page = c.pages.Clamp(page)
	var anchor *position.Anchor
	if reanchor {
		if ids := c.pages.Page(c.page); len(ids) > 0 {
			if i := content.Find(c.blocks, ids[0]); i >= 0 {
				anchor = &position.Anchor{
					ChapterID:     c.chapters[c.chapterIdx].ID,
					BlockID:       ids[0],
					BlockPosition: c.blocks[i].Position,
				}
			}
		}
	}
	visible, prefetch := c.translationWindowLocked()
	bookID := c.book.ID
	progress := state.Progress{
		ChapterIndex: c.chapterIdx,
		ChapterCount: len(c.chapters),
		Fraction:     c.progressLocked(),
	}
	c.mu.Unlock()

	if anchor != nil {
		c.commitAnchor(*anchor)
	}
	if err := c.state.SetProgress(bookID, progress); err != nil {
		c.logger.WithError(err).Debug("Failed to store progress")
	}

	c.scheduler.Enqueue(visible, translation.PriorityHigh)
	c.scheduler.Enqueue(prefetch, translation.PriorityLow)

	busy := c.scheduler.Busy()
	c.mu.RLock()
	observer := c.observer
	view := c.viewLocked(busy)
	c.mu.RUnlock()
	if observer != nil {
		observer.ViewChanged(view)
	}
}

// translationWindowLocked returns the translatable ids of the current page
// and of the next PrefetchPages pages. Reading in the book's own language
// needs no translation.
func (c *Controller) translationWindowLocked() (visible, prefetch []string) {
	if c.book.OriginalLanguage != "" && content.SameLanguage(c.lang, c.book.OriginalLanguage) {
		return nil, nil
	}
	visible = content.TranslatableIDs(c.blocks, c.pages.Page(c.page))
	for i := c.page + 1; i <= c.page+c.cfg.PrefetchPages && i < len(c.pages); i++ {
		prefetch = append(prefetch, content.TranslatableIDs(c.blocks, c.pages[i])...)
	}
	return visible, prefetch
}

// blockPosition looks up a block of the loaded chapter.
func (c *Controller) blockPosition(blockID string) (int, bool) {
	if blockID == "" {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := content.Find(c.blocks, blockID)
	if i < 0 {
		return 0, false
	}
	return c.blocks[i].Position, true
}

func (c *Controller) commitAnchor(a position.Anchor) {
	c.mu.Lock()
	if a.Lang == "" {
		a.Lang = c.lang
	}
	c.anchor = a
	bookID := c.book.ID
	c.mu.Unlock()

	c.positions.SetAnchor(bookID, a)
}

// mergeTranslation runs under the scheduler lock. It only touches the block
// list, so it never reflows pages.
func (c *Controller) mergeTranslation(chapterID, lang string, r translation.Result) {
	c.mu.Lock()
	if c.book == nil || c.chapters[c.chapterIdx].ID != chapterID || c.lang != lang {
		c.mu.Unlock()
		return
	}
	i := content.Find(c.blocks, r.BlockID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	merged, ok := c.blocks[i].ApplyTranslation(r.TranslatedText)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.blocks[i] = merged
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer.BlockTranslated(chapterID, merged)
	}
}

func chapterIndex(chapters []content.Chapter, id string) int {
	return slices.IndexFunc(chapters, func(ch content.Chapter) bool { return ch.ID == id })
}
