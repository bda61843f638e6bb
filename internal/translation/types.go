package translation

import (
	"context"
)

// Priority orders translation work: visible blocks before prefetch.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// String returns "high" or "low".
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Status is the per-block outcome reported by the translation service.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Cache tells whether the service had the translation cached.
type Cache string

const (
	CacheHit  Cache = "hit"
	CacheMiss Cache = "miss"
)

// DirectionDown asks the service to order work from the anchor onwards.
const DirectionDown = "down"

// Request is one translation batch sent to the remote service.
type Request struct {
	ChapterID     string   `json:"-"`
	Lang          string   `json:"lang"`
	BlockIDs      []string `json:"blockIds"`
	AnchorBlockID string   `json:"anchorBlockId,omitempty"`
	Direction     string   `json:"direction,omitempty"`
}

// Result is the outcome for a single block, one per line of a streamed
// response.
type Result struct {
	BlockID        string `json:"blockId"`
	Status         Status `json:"status"`
	Cache          Cache  `json:"cache,omitempty"`
	TranslatedText string `json:"translatedText,omitempty"`
}

// Translator resolves a batch. onResult is invoked once per block as soon as
// it is available; implementations return when the batch is complete or ctx
// is cancelled.
type Translator interface {
	Translate(ctx context.Context, req Request, onResult func(Result)) error
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, req Request, onResult func(Result)) error

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, req Request, onResult func(Result)) error {
	return f(ctx, req, onResult)
}

// MergeFunc applies a successful result to the caller's block list. It is
// called with the scheduler's lock held and must not call back into the
// Scheduler.
type MergeFunc func(chapterID, lang string, result Result)

// Broadcaster publishes scheduler activity to live listeners.
type Broadcaster interface {
	BroadcastMessage(msgType interface{}, data interface{})
	BroadcastLog(level, message, module string)
}
