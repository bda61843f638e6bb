package paginator

import (
	"slices"

	"github.com/condr-at/globoox-preview/internal/content"
)

// Resolution reports how Resolve found the page.
type Resolution int

const (
	ResolvedEmpty Resolution = iota
	ResolvedExact
	ResolvedByPosition
)

func (r Resolution) String() string {
	switch r {
	case ResolvedExact:
		return "exact"
	case ResolvedByPosition:
		return "position"
	default:
		return "empty"
	}
}

// FindPageForBlock returns the index of the first page containing blockID,
// or NotFound.
func FindPageForBlock(pages Pages, blockID string) int {
	for i, page := range pages {
		if slices.Contains(page, blockID) {
			return i
		}
	}
	return NotFound
}

// FindPageByBlockPosition returns the first page whose first block sits at or
// after target. When no page qualifies the last page is returned, so readers
// are never rewound and never pushed past the end. An empty table yields 0.
func FindPageByBlockPosition(pages Pages, blocks []content.Block, target int) int {
	positions := content.Positions(blocks)

	for i, page := range pages {
		if len(page) == 0 {
			continue
		}
		pos, ok := positions[page[0]]
		if !ok {
			pos = -1
		}
		if pos >= target {
			return i
		}
	}
	return max(0, len(pages)-1)
}

// Resolve maps a remembered position onto pages: exact block match first,
// then the position fallback.
func Resolve(pages Pages, blocks []content.Block, blockID string, position int) (int, Resolution) {
	if len(pages) == 0 {
		return 0, ResolvedEmpty
	}
	if blockID != "" {
		if i := FindPageForBlock(pages, blockID); i != NotFound {
			return i, ResolvedExact
		}
	}
	return FindPageByBlockPosition(pages, blocks, position), ResolvedByPosition
}
