// Package paginator packs chapter blocks into screen-sized pages and resolves
// a remembered reading position onto a freshly computed page table.
package paginator

import (
	"github.com/condr-at/globoox-preview/internal/content"
)

// FallbackHeight is used for blocks that have not been measured yet.
const FallbackHeight = 80

// NotFound is returned by FindPageForBlock when no page holds the block.
const NotFound = -1

// Page is an ordered, non-empty run of block identifiers.
type Page []string

type Pages []Page

// ComputePages splits blocks into pages of at most pageHeight. A block is
// never split; a block taller than the page sits alone on its own page.
// The overflow test is strict, so blocks that fill a page exactly stay on it.
func ComputePages(blocks []content.Block, heights map[string]float64, pageHeight float64) Pages {
	if len(blocks) == 0 || pageHeight <= 0 {
		return Pages{}
	}

	var pages Pages
	var current Page
	var currentHeight float64

	for _, block := range blocks {
		h, ok := heights[block.ID]
		if !ok {
			h = FallbackHeight
		}

		if currentHeight+h > pageHeight && len(current) > 0 {
			pages = append(pages, current)
			current = Page{block.ID}
			currentHeight = h
			continue
		}
		current = append(current, block.ID)
		currentHeight += h
	}

	if len(current) > 0 {
		pages = append(pages, current)
	}
	return pages
}

// BlockIDs flattens the page table back into document order.
func (p Pages) BlockIDs() []string {
	var ids []string
	for _, page := range p {
		ids = append(ids, page...)
	}
	return ids
}

// Page returns the page at index i, or nil when out of range.
func (p Pages) Page(i int) Page {
	if i < 0 || i >= len(p) {
		return nil
	}
	return p[i]
}

// Clamp keeps a page index inside the table. An empty table clamps to 0.
func (p Pages) Clamp(i int) int {
	if i >= len(p) {
		i = len(p) - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
