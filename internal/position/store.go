// Package position keeps the reader's place in each book. The local tier is
// written synchronously on every committed navigation; a signed-in reader's
// position is also mirrored to the remote service through a per-book
// throttle.
package position

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultThrottleInterval = time.Second

// Anchor identifies the block the reader is looking at. It is the same
// shape the remote service stores.
type Anchor struct {
	ChapterID     string    `json:"chapter_id"`
	BlockID       string    `json:"block_id"`
	BlockPosition int       `json:"block_position"`
	Lang          string    `json:"lang,omitempty"`
	UpdatedAt     time.Time `json:"updated_at_client"`
}

// Local is the synchronous tier. It never talks to the network.
type Local interface {
	Anchor(bookID string) (Anchor, bool)
	SetAnchor(bookID string, a Anchor) error
	ForgetAnchor(bookID string) error
}

// Remote is the per-user tier on the remote service.
type Remote interface {
	SignedIn() bool
	FetchReadingPosition(ctx context.Context, bookID string) (Anchor, bool, error)
	SavePosition(ctx context.Context, bookID string, a Anchor) error
}

// Store keeps one anchor per book across both tiers.
type Store struct {
	local    Local
	remote   Remote
	throttle *Throttle[Anchor]
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewStore creates a store. remote may be nil for a reader with no account.
func NewStore(local Local, remote Remote, interval time.Duration, logger *logrus.Logger) *Store {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	s := &Store{
		local:   local,
		remote:  remote,
		timeout: 10 * time.Second,
		logger:  logger,
	}
	s.throttle = NewThrottle(interval, s.pushRemote)
	return s
}

func (s *Store) signedIn() bool {
	return s.remote != nil && s.remote.SignedIn()
}

// SetAnchor overwrites the book's anchor. Local persistence errors are
// logged; the caller always sees success.
func (s *Store) SetAnchor(bookID string, a Anchor) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	if err := s.local.SetAnchor(bookID, a); err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Error("Failed to persist reading position locally")
	}
	if s.signedIn() {
		s.throttle.Submit(bookID, a)
	}
}

// Anchor returns the local anchor of a book.
func (s *Store) Anchor(bookID string) (Anchor, bool) {
	return s.local.Anchor(bookID)
}

// Forget removes the book's local anchor. Used when a book is removed.
func (s *Store) Forget(bookID string) {
	if err := s.local.ForgetAnchor(bookID); err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Warn("Failed to forget reading position")
	}
}

// Restore returns the anchor to open the book at. A signed-in reader's
// remote anchor wins and is copied into the local tier; if the remote
// cannot be reached the local anchor is used.
func (s *Store) Restore(ctx context.Context, bookID string) (Anchor, bool) {
	local, hasLocal := s.local.Anchor(bookID)
	if !s.signedIn() {
		return local, hasLocal
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remote, ok, err := s.remote.FetchReadingPosition(ctx, bookID)
	if err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Warn("Failed to fetch remote reading position, using local")
		return local, hasLocal
	}
	if !ok {
		return local, hasLocal
	}

	if err := s.local.SetAnchor(bookID, remote); err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Error("Failed to persist restored reading position")
	}
	s.logger.WithFields(logrus.Fields{
		"book_id":    bookID,
		"chapter_id": remote.ChapterID,
		"block_id":   remote.BlockID,
	}).Debug("Reading position restored from remote")
	return remote, true
}

// Flush sends deferred remote writes now.
func (s *Store) Flush() {
	s.throttle.Flush()
}

// Close sends deferred remote writes and stops the throttle.
func (s *Store) Close() {
	s.throttle.Close()
}

func (s *Store) pushRemote(bookID string, a Anchor) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.remote.SavePosition(ctx, bookID, a); err != nil {
		s.logger.WithError(err).WithField("book_id", bookID).Warn("Failed to save reading position remotely")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"book_id":  bookID,
		"block_id": a.BlockID,
	}).Debug("Reading position saved remotely")
}
