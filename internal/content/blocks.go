package content

import "fmt"

// IDs returns the block identifiers in document order.
func IDs(blocks []Block) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}

// Positions maps block identifier to document position.
func Positions(blocks []Block) map[string]int {
	positions := make(map[string]int, len(blocks))
	for _, b := range blocks {
		positions[b.ID] = b.Position
	}
	return positions
}

// Find returns the index of the block with the given identifier, or -1.
func Find(blocks []Block, id string) int {
	for i, b := range blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// ValidateOrder checks that identifiers are unique and positions strictly
// increase in document order.
func ValidateOrder(blocks []Block) error {
	seen := make(map[string]struct{}, len(blocks))
	for i, b := range blocks {
		if b.ID == "" {
			return fmt.Errorf("block at index %d has no id", i)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("duplicate block id %q at index %d", b.ID, i)
		}
		seen[b.ID] = struct{}{}
		if i > 0 && b.Position <= blocks[i-1].Position {
			return fmt.Errorf("block %q position %d does not follow %d", b.ID, b.Position, blocks[i-1].Position)
		}
	}
	return nil
}

// TranslatableIDs filters ids down to blocks that carry text.
func TranslatableIDs(blocks []Block, ids []string) []string {
	kinds := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		kinds[b.ID] = b.Translatable()
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if kinds[id] {
			out = append(out, id)
		}
	}
	return out
}
