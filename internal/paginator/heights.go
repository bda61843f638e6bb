package paginator

import "sync"

// HeightRegistry keeps the last measured height of every block, as reported
// by whatever surface renders them.
type HeightRegistry struct {
	mu      sync.RWMutex
	heights map[string]float64
}

func NewHeightRegistry() *HeightRegistry {
	return &HeightRegistry{heights: make(map[string]float64)}
}

// Report records a measurement. Non-positive heights are ignored; a block that
// has not rendered yet keeps its previous value or the fallback.
func (r *HeightRegistry) Report(blockID string, height float64) {
	if height <= 0 {
		return
	}
	r.mu.Lock()
	r.heights[blockID] = height
	r.mu.Unlock()
}

func (r *HeightRegistry) ReportAll(heights map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range heights {
		if h > 0 {
			r.heights[id] = h
		}
	}
}

// Height returns the measured height and whether one was recorded.
func (r *HeightRegistry) Height(blockID string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.heights[blockID]
	return h, ok
}

// Snapshot returns a copy that is safe to hand to ComputePages.
func (r *HeightRegistry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.heights))
	for id, h := range r.heights {
		out[id] = h
	}
	return out
}

func (r *HeightRegistry) Forget(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.heights, id)
	}
}

func (r *HeightRegistry) Reset() {
	r.mu.Lock()
	r.heights = make(map[string]float64)
	r.mu.Unlock()
}

func (r *HeightRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.heights)
}
