package translation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultMaxBatchSize = 20

// Config tunes batching and debouncing. Zero debounce flushes synchronously.
type Config struct {
	MaxBatchSize int
	HighDebounce time.Duration
	LowDebounce  time.Duration
	Direction    string
}

// DefaultConfig returns batches of DefaultMaxBatchSize with no debounce.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: DefaultMaxBatchSize,
		Direction:    DirectionDown,
	}
}

// Stats are cumulative counters for observability.
type Stats struct {
	Batches int `json:"batches"`
	Aborted int `json:"aborted"`
	Failed  int `json:"failed"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Errors  int `json:"errors"`
}

// Snapshot is a copy of the scheduler's bookkeeping at one instant.
type Snapshot struct {
	ChapterID    string   `json:"chapter_id"`
	Lang         string   `json:"lang"`
	PendingHigh  []string `json:"pending_high"`
	PendingLow   []string `json:"pending_low"`
	QueuedHigh   []string `json:"queued_high"`
	QueuedLow    []string `json:"queued_low"`
	Inflight     []string `json:"inflight"`
	InflightHigh bool     `json:"inflight_high"`
	Translated   []string `json:"translated"`
	Busy         bool     `json:"busy"`
}

// Pending reports whether id waits in any pending or queued set.
func (s Snapshot) Pending(id string) bool {
	for _, set := range [][]string{s.PendingHigh, s.PendingLow, s.QueuedHigh, s.QueuedLow} {
		for _, v := range set {
			if v == id {
				return true
			}
		}
	}
	return false
}

type batch struct {
	id       string
	ids      []string
	high     bool
	cancel   context.CancelFunc
	started  time.Time
	hits     int
	misses   int
	errors   int
	received int
}

// Scheduler fetches translations for the blocks around the reader. It keeps
// at most one batch in flight per chapter+language context, serves visible
// blocks before prefetch, and preempts a prefetch batch when the reader
// needs something else right now.
type Scheduler struct {
	translator Translator
	merge      MergeFunc
	cfg        Config
	logger     *logrus.Logger
	hub        Broadcaster

	mu          sync.Mutex
	chapterID   string
	lang        string
	pendingHigh *idSet
	pendingLow  *idSet
	queuedHigh  *idSet
	queuedLow   *idSet
	translated  *idSet
	inflight    map[string]Priority
	current     *batch
	timers      [2]*time.Timer
	epoch       uint64
	busy        bool
	closed      bool
	stats       Stats

	wg sync.WaitGroup
}

// NewScheduler creates an idle scheduler. merge is called for every
// successful result and must not call back into the scheduler.
func NewScheduler(translator Translator, merge MergeFunc, cfg Config, logger *logrus.Logger) *Scheduler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Direction == "" {
		cfg.Direction = DirectionDown
	}
	return &Scheduler{
		translator:  translator,
		merge:       merge,
		cfg:         cfg,
		logger:      logger,
		pendingHigh: newIDSet(),
		pendingLow:  newIDSet(),
		queuedHigh:  newIDSet(),
		queuedLow:   newIDSet(),
		translated:  newIDSet(),
		inflight:    make(map[string]Priority),
	}
}

// SetBroadcaster sets the listener for busy state and batch summaries.
func (s *Scheduler) SetBroadcaster(hub Broadcaster) {
	s.mu.Lock()
	s.hub = hub
	s.mu.Unlock()
}

// Reset aborts all work and starts a fresh chapter+language context.
func (s *Scheduler) Reset(chapterID, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abortLocked("reset")
	s.translated.clear()
	s.chapterID = chapterID
	s.lang = lang

	s.logger.WithFields(logrus.Fields{
		"event":      "context_reset",
		"chapter_id": chapterID,
		"lang":       lang,
	}).Debug("Translation context reset")
}

// Enqueue submits block identifiers at the given priority. Blocks that are
// already translated or in flight are ignored; a high request promotes a
// block waiting at low priority.
func (s *Scheduler) Enqueue(ids []string, priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.chapterID == "" || len(ids) == 0 {
		return
	}

	added := 0
	for _, id := range ids {
		if s.translated.has(id) {
			continue
		}
		if _, ok := s.inflight[id]; ok {
			continue
		}

		if priority == PriorityHigh {
			promoted := s.pendingLow.remove(id)
			promoted = s.queuedLow.remove(id) || promoted
			if s.pendingHigh.has(id) || s.queuedHigh.has(id) {
				continue
			}
			if s.current != nil {
				s.queuedHigh.add(id)
			} else {
				s.pendingHigh.add(id)
			}
			if !promoted {
				added++
			}
			continue
		}

		if s.pendingHigh.has(id) || s.pendingLow.has(id) || s.queuedHigh.has(id) || s.queuedLow.has(id) {
			continue
		}
		if s.current != nil {
			s.queuedLow.add(id)
		} else {
			s.pendingLow.add(id)
		}
		added++
	}

	s.logger.WithFields(logrus.Fields{
		"event":           "enqueue_blocks",
		"chapter_id":      s.chapterID,
		"lang":            s.lang,
		"requested":       len(ids),
		"newly_enqueued":  added,
		"already_handled": len(ids) - added,
		"priority":        priority.String(),
	}).Debug("Blocks enqueued for translation")

	switch {
	case priority == PriorityHigh && (s.pendingHigh.len() > 0 || s.queuedHigh.len() > 0):
		s.scheduleLocked(PriorityHigh)
	case priority == PriorityLow && s.current == nil && s.pendingLow.len() > 0:
		s.scheduleLocked(PriorityLow)
	}
}

// Flush dispatches pending work now, bypassing the debounce window.
func (s *Scheduler) Flush(priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(priority)
	s.flushLocked(priority)
}

// AbortAll discards every pending, queued and in-flight block and cancels the
// live request. Blocks already translated stay translated.
func (s *Scheduler) AbortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked("abort_all")
}

// Close stops all work. The scheduler ignores further submissions.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.abortLocked("close")
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until every request goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Busy reports whether a batch is in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// IsTranslated reports whether id has a result in the current context.
func (s *Scheduler) IsTranslated(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.translated.has(id)
}

// Snapshot returns a copy of the pending, queued, in-flight and translated sets.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ChapterID:   s.chapterID,
		Lang:        s.lang,
		PendingHigh: s.pendingHigh.items(),
		PendingLow:  s.pendingLow.items(),
		QueuedHigh:  s.queuedHigh.items(),
		QueuedLow:   s.queuedLow.items(),
		Translated:  s.translated.items(),
		Busy:        s.busy,
	}
	if s.current != nil {
		snap.InflightHigh = s.current.high
		for _, id := range s.current.ids {
			if _, ok := s.inflight[id]; ok {
				snap.Inflight = append(snap.Inflight, id)
			}
		}
	}
	return snap
}

func (s *Scheduler) debounce(priority Priority) time.Duration {
	if priority == PriorityHigh {
		return s.cfg.HighDebounce
	}
	return s.cfg.LowDebounce
}

func (s *Scheduler) scheduleLocked(priority Priority) {
	delay := s.debounce(priority)
	if delay <= 0 {
		s.stopTimerLocked(priority)
		s.flushLocked(priority)
		return
	}

	s.stopTimerLocked(priority)
	epoch := s.epoch
	s.timers[priority] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch {
			return
		}
		s.timers[priority] = nil
		s.flushLocked(priority)
	})
}

func (s *Scheduler) stopTimerLocked(priority Priority) {
	if t := s.timers[priority]; t != nil {
		t.Stop()
		s.timers[priority] = nil
	}
}

func (s *Scheduler) flushLocked(priority Priority) {
	if s.closed || s.chapterID == "" {
		return
	}
	if s.current != nil {
		if priority != PriorityHigh || s.current.high {
			return
		}
		s.preemptLocked()
	}
	s.dispatchLocked()
}

// preemptLocked abandons a prefetch batch. Its blocks go back to pending at
// their own priority so nothing is lost.
func (s *Scheduler) preemptLocked() {
	b := s.current
	b.cancel()
	s.current = nil
	s.stats.Aborted++

	returned := 0
	for _, id := range b.ids {
		priority, ok := s.inflight[id]
		if !ok {
			continue
		}
		delete(s.inflight, id)
		if priority == PriorityHigh {
			s.pendingHigh.add(id)
		} else {
			s.pendingLow.add(id)
		}
		returned++
	}
	s.queuedHigh.drainInto(s.pendingHigh)
	s.queuedLow.drainInto(s.pendingLow)

	s.logger.WithFields(logrus.Fields{
		"event":      "abort_inflight",
		"reason":     "new_high_priority_request",
		"batch_id":   b.id,
		"chapter_id": s.chapterID,
		"lang":       s.lang,
		"returned":   returned,
	}).Debug("Prefetch batch preempted")
}

func (s *Scheduler) dispatchLocked() {
	high := s.pendingHigh.items()
	low := s.pendingLow.items()
	if len(high)+len(low) == 0 {
		s.setBusyLocked(false)
		return
	}

	limit := s.cfg.MaxBatchSize
	ids := make([]string, 0, min(limit, len(high)+len(low)))
	takenHigh := 0
	for _, id := range high {
		if len(ids) == limit {
			break
		}
		ids = append(ids, id)
		s.pendingHigh.remove(id)
		s.inflight[id] = PriorityHigh
		takenHigh++
	}
	for _, id := range low {
		if len(ids) == limit {
			break
		}
		ids = append(ids, id)
		s.pendingLow.remove(id)
		s.inflight[id] = PriorityLow
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &batch{
		id:      uuid.NewString(),
		ids:     ids,
		high:    takenHigh > 0,
		cancel:  cancel,
		started: time.Now(),
	}
	s.current = b
	s.stats.Batches++
	s.setBusyLocked(true)

	req := Request{
		ChapterID:     s.chapterID,
		Lang:          s.lang,
		BlockIDs:      ids,
		AnchorBlockID: ids[0],
		Direction:     s.cfg.Direction,
	}

	s.logger.WithFields(logrus.Fields{
		"event":         "flush_start",
		"batch_id":      b.id,
		"chapter_id":    s.chapterID,
		"lang":          s.lang,
		"batch_size":    len(ids),
		"high_priority": b.high,
		"overflow_size": s.pendingHigh.len() + s.pendingLow.len(),
	}).Debug("Translation batch dispatched")

	s.wg.Add(1)
	go s.run(ctx, b, req)
}

func (s *Scheduler) run(ctx context.Context, b *batch, req Request) {
	defer s.wg.Done()
	err := s.translator.Translate(ctx, req, func(r Result) {
		s.handleResult(b, r)
	})
	s.finish(b, err)
}

func (s *Scheduler) handleResult(b *batch, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A preempted or aborted batch must not touch blocks that were
	// handed back to pending.
	if s.current != b {
		return
	}
	if _, ok := s.inflight[r.BlockID]; !ok {
		return
	}
	delete(s.inflight, r.BlockID)
	s.translated.add(r.BlockID)
	b.received++

	if r.Status == StatusOK {
		if r.Cache == CacheHit {
			b.hits++
			s.stats.Hits++
		} else {
			b.misses++
			s.stats.Misses++
		}
	} else {
		b.errors++
		s.stats.Errors++
	}

	s.logger.WithFields(logrus.Fields{
		"event":    "block_received",
		"batch_id": b.id,
		"block_id": r.BlockID,
		"cache":    r.Cache,
		"status":   r.Status,
	}).Debug("Translated block received")

	if r.Status == StatusOK && r.TranslatedText != "" && s.merge != nil {
		s.merge(s.chapterID, s.lang, r)
	}
}

func (s *Scheduler) finish(b *batch, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.cancel()
	if s.current != b {
		return
	}
	s.current = nil

	// Blocks without a result leave the in-flight set untranslated, so a
	// later viewport event can request them again.
	dropped := 0
	for _, id := range b.ids {
		if _, ok := s.inflight[id]; ok {
			delete(s.inflight, id)
			dropped++
		}
	}

	fields := logrus.Fields{
		"event":       "flush_done",
		"batch_id":    b.id,
		"chapter_id":  s.chapterID,
		"lang":        s.lang,
		"batch_size":  len(b.ids),
		"hits":        b.hits,
		"misses":      b.misses,
		"errors":      b.errors,
		"dropped":     dropped,
		"duration_ms": time.Since(b.started).Milliseconds(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.stats.Failed++
		s.logger.WithFields(fields).WithError(err).Warn("Translation batch failed")
		if s.hub != nil {
			s.hub.BroadcastLog("warning", fmt.Sprintf("Translation batch failed: %v", err), "translation")
		}
	} else {
		s.logger.WithFields(fields).Debug("Translation batch completed")
	}
	if s.hub != nil {
		s.hub.BroadcastMessage("translation_batch", map[string]interface{}{
			"batch_id":   b.id,
			"chapter_id": s.chapterID,
			"lang":       s.lang,
			"block_ids":  b.ids,
			"hits":       b.hits,
			"misses":     b.misses,
			"errors":     b.errors,
			"dropped":    dropped,
		})
	}

	s.queuedHigh.drainInto(s.pendingHigh)
	s.queuedLow.drainInto(s.pendingLow)

	switch {
	case s.pendingHigh.len() > 0:
		s.flushLocked(PriorityHigh)
	case s.pendingLow.len() > 0:
		s.flushLocked(PriorityLow)
	default:
		s.setBusyLocked(false)
	}
}

func (s *Scheduler) abortLocked(reason string) {
	s.epoch++
	s.stopTimerLocked(PriorityHigh)
	s.stopTimerLocked(PriorityLow)

	if b := s.current; b != nil {
		b.cancel()
		s.current = nil
		s.stats.Aborted++
		s.logger.WithFields(logrus.Fields{
			"event":      "abort_inflight",
			"reason":     reason,
			"batch_id":   b.id,
			"chapter_id": s.chapterID,
			"lang":       s.lang,
		}).Debug("In-flight translation aborted")
	}

	s.pendingHigh.clear()
	s.pendingLow.clear()
	s.queuedHigh.clear()
	s.queuedLow.clear()
	clear(s.inflight)
	s.setBusyLocked(false)
}

func (s *Scheduler) setBusyLocked(busy bool) {
	if s.busy == busy {
		return
	}
	s.busy = busy
	if s.hub != nil {
		s.hub.BroadcastMessage("translation_busy", map[string]interface{}{
			"chapter_id": s.chapterID,
			"lang":       s.lang,
			"busy":       busy,
		})
	}
}
