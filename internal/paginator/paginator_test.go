package paginator

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/condr-at/globoox-preview/internal/content"
)

func makeBlock(id string, position int) content.Block {
	return content.Block{ID: id, Position: position, Type: content.BlockParagraph, Text: "Block " + id}
}

func makeHeights(blocks []content.Block, height float64) map[string]float64 {
	heights := make(map[string]float64, len(blocks))
	for _, b := range blocks {
		heights[b.ID] = height
	}
	return heights
}

func makeBlocks(prefix string, n, step int) []content.Block {
	blocks := make([]content.Block, n)
	for i := range blocks {
		blocks[i] = makeBlock(fmt.Sprintf("%s%d", prefix, i), i*step)
	}
	return blocks
}

func TestComputePages(t *testing.T) {
	abcd := []content.Block{makeBlock("a", 0), makeBlock("b", 1), makeBlock("c", 2), makeBlock("d", 3)}

	testCases := []struct {
		name       string
		blocks     []content.Block
		heights    map[string]float64
		pageHeight float64
		expected   Pages
	}{
		{
			name:       "Empty blocks",
			blocks:     nil,
			heights:    map[string]float64{},
			pageHeight: 800,
			expected:   Pages{},
		},
		{
			name:       "Zero page height",
			blocks:     abcd[:1],
			heights:    makeHeights(abcd[:1], 100),
			pageHeight: 0,
			expected:   Pages{},
		},
		{
			name:       "Negative page height",
			blocks:     abcd[:1],
			heights:    makeHeights(abcd[:1], 100),
			pageHeight: -10,
			expected:   Pages{},
		},
		{
			name:       "Multiple blocks fit on one page",
			blocks:     abcd[:3],
			heights:    makeHeights(abcd[:3], 100),
			pageHeight: 500,
			expected:   Pages{{"a", "b", "c"}},
		},
		{
			name:       "Blocks split across pages",
			blocks:     abcd,
			heights:    makeHeights(abcd, 300),
			pageHeight: 500,
			expected:   Pages{{"a"}, {"b"}, {"c"}, {"d"}},
		},
		{
			name:       "Oversized block gets its own page",
			blocks:     []content.Block{makeBlock("big", 0)},
			heights:    map[string]float64{"big": 2000},
			pageHeight: 800,
			expected:   Pages{{"big"}},
		},
		{
			name:       "Oversized block in the middle",
			blocks:     abcd[:3],
			heights:    map[string]float64{"a": 100, "b": 900, "c": 100},
			pageHeight: 500,
			expected:   Pages{{"a"}, {"b"}, {"c"}},
		},
		{
			name:       "Missing heights use the fallback",
			blocks:     abcd[:2],
			heights:    map[string]float64{},
			pageHeight: 200,
			expected:   Pages{{"a", "b"}},
		},
		{
			name:       "Fallback height triggers overflow",
			blocks:     abcd[:3],
			heights:    map[string]float64{},
			pageHeight: 200,
			expected:   Pages{{"a", "b"}, {"c"}},
		},
		{
			name:       "Exact fit stays on one page",
			blocks:     abcd[:2],
			heights:    makeHeights(abcd[:2], 200),
			pageHeight: 400,
			expected:   Pages{{"a", "b"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pages := ComputePages(tc.blocks, tc.heights, tc.pageHeight)
			if len(pages) != len(tc.expected) {
				t.Fatalf("Expected %d pages, got %d: %v", len(tc.expected), len(pages), pages)
			}
			for i := range pages {
				if !reflect.DeepEqual(pages[i], tc.expected[i]) {
					t.Errorf("Page %d: expected %v, got %v", i, tc.expected[i], pages[i])
				}
			}
		})
	}
}

func TestComputePagesPartitionsBlocks(t *testing.T) {
	blocks := makeBlocks("b", 57, 3)
	heights := make(map[string]float64)
	for i, b := range blocks {
		// Deterministic but uneven heights, some missing, some oversized.
		switch {
		case i%11 == 0:
			heights[b.ID] = 900
		case i%4 == 0:
		default:
			heights[b.ID] = float64(40 + (i*37)%160)
		}
	}

	for _, pageHeight := range []float64{1, 79, 80, 250, 333.5, 600, 10000} {
		t.Run(fmt.Sprintf("page height %v", pageHeight), func(t *testing.T) {
			pages := ComputePages(blocks, heights, pageHeight)
			if !reflect.DeepEqual(pages.BlockIDs(), content.IDs(blocks)) {
				t.Fatalf("Pages do not partition the block list in order")
			}
			for i, page := range pages {
				if len(page) == 0 {
					t.Errorf("Page %d is empty", i)
				}
			}
			again := ComputePages(blocks, heights, pageHeight)
			if !reflect.DeepEqual(pages, again) {
				t.Errorf("Pagination is not deterministic")
			}
		})
	}
}

func TestFindPageForBlock(t *testing.T) {
	pages := Pages{{"a", "b"}, {"c", "d"}, {"e"}}

	testCases := []struct {
		name     string
		pages    Pages
		id       string
		expected int
	}{
		{"First page", pages, "a", 0},
		{"First page second block", pages, "b", 0},
		{"Middle page", pages, "c", 1},
		{"Last page", pages, "e", 2},
		{"Absent block", pages, "z", NotFound},
		{"Empty page table", Pages{}, "a", NotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FindPageForBlock(tc.pages, tc.id); got != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestFindPageByBlockPosition(t *testing.T) {
	blocks := []content.Block{
		makeBlock("p0", 0),
		makeBlock("p10", 10),
		makeBlock("p20", 20),
		makeBlock("p30", 30),
		makeBlock("p40", 40),
	}
	pages := Pages{{"p0", "p10"}, {"p20", "p30"}, {"p40"}}

	testCases := []struct {
		name     string
		pages    Pages
		target   int
		expected int
	}{
		{"Before first block", pages, -5, 0},
		{"At first block", pages, 0, 0},
		{"Inside first page moves forward", pages, 10, 1},
		{"Mid-range position", pages, 20, 1},
		{"Between pages", pages, 35, 2},
		{"Beyond all blocks", pages, 999, 2},
		{"Empty page table", Pages{}, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FindPageByBlockPosition(tc.pages, blocks, tc.target); got != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	blocks := makeBlocks("b", 6, 10)
	pages := ComputePages(blocks, makeHeights(blocks, 100), 200)

	if i, how := Resolve(pages, blocks, "b3", 30); i != 1 || how != ResolvedExact {
		t.Errorf("Expected exact page 1, got %d (%v)", i, how)
	}
	if i, how := Resolve(pages, blocks, "gone", 40); i != 2 || how != ResolvedByPosition {
		t.Errorf("Expected position page 2, got %d (%v)", i, how)
	}
	if i, how := Resolve(pages, blocks, "", 0); i != 0 || how != ResolvedByPosition {
		t.Errorf("Expected position page 0 for empty id, got %d (%v)", i, how)
	}
	if i, how := Resolve(Pages{}, blocks, "b3", 30); i != 0 || how != ResolvedEmpty {
		t.Errorf("Expected empty resolution, got %d (%v)", i, how)
	}
}

func TestAnchorRetainedAfterRepagination(t *testing.T) {
	blocks := makeBlocks("b", 20, 10)
	heights := makeHeights(blocks, 100)
	const pageHeight = 350

	pages := ComputePages(blocks, heights, pageHeight)
	anchor := pages[2][0]

	// Same identifiers, translated text: the page table must be identical.
	translated := make([]content.Block, len(blocks))
	for i, b := range blocks {
		translated[i], _ = b.ApplyTranslation("traduit " + b.ID)
	}
	newPages := ComputePages(translated, heights, pageHeight)

	if got := FindPageForBlock(newPages, anchor); got != 2 {
		t.Errorf("Expected anchor to resolve to page 2, got %d", got)
	}
}

func TestAnchorFallsBackToPositionAfterReimport(t *testing.T) {
	oldBlocks := makeBlocks("old", 10, 10)
	const pageHeight = 350
	oldPages := ComputePages(oldBlocks, makeHeights(oldBlocks, 100), pageHeight)

	anchorID := oldPages[1][0]
	anchorPosition := oldBlocks[content.Find(oldBlocks, anchorID)].Position

	newBlocks := makeBlocks("new", 10, 10)
	newPages := ComputePages(newBlocks, makeHeights(newBlocks, 100), pageHeight)

	if got := FindPageForBlock(newPages, anchorID); got != NotFound {
		t.Fatalf("Expected old id to be absent, got page %d", got)
	}
	byPos := FindPageByBlockPosition(newPages, newBlocks, anchorPosition)
	if byPos < 0 || byPos >= len(newPages) {
		t.Fatalf("Position fallback out of bounds: %d", byPos)
	}
	if byPos != 1 {
		t.Errorf("Expected position fallback to land on page 1, got %d", byPos)
	}
}

func TestKey(t *testing.T) {
	blocks := makeBlocks("b", 5, 10)
	base := Key("ch1", "fr", blocks, 600, 18)

	translated := make([]content.Block, len(blocks))
	for i, b := range blocks {
		translated[i], _ = b.ApplyTranslation("autre")
	}
	if Key("ch1", "fr", translated, 600, 18) != base {
		t.Error("Text-only change must not alter the key")
	}

	reordered := append([]content.Block{blocks[1], blocks[0]}, blocks[2:]...)
	variants := map[string]string{
		"page height": Key("ch1", "fr", blocks, 601, 18),
		"font size":   Key("ch1", "fr", blocks, 600, 20),
		"language":    Key("ch1", "de", blocks, 600, 18),
		"chapter":     Key("ch2", "fr", blocks, 600, 18),
		"block set":   Key("ch1", "fr", blocks[:4], 600, 18),
		"block order": Key("ch1", "fr", reordered, 600, 18),
	}
	for name, k := range variants {
		if k == base {
			t.Errorf("Changing %s must alter the key", name)
		}
	}
}

func TestHeightRegistry(t *testing.T) {
	r := NewHeightRegistry()
	r.Report("a", 120)
	r.Report("b", 0)
	r.ReportAll(map[string]float64{"c": 40, "d": -1})

	if h, ok := r.Height("a"); !ok || h != 120 {
		t.Errorf("Expected a=120, got %v %v", h, ok)
	}
	if _, ok := r.Height("b"); ok {
		t.Error("Non-positive height must be ignored")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Len())
	}

	snap := r.Snapshot()
	snap["a"] = 1
	if h, _ := r.Height("a"); h != 120 {
		t.Error("Snapshot must be a copy")
	}

	r.Forget("a")
	if _, ok := r.Height("a"); ok {
		t.Error("Expected a to be forgotten")
	}
	r.Reset()
	if r.Len() != 0 {
		t.Error("Expected empty registry after reset")
	}
}
