package paginator

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/zeebo/blake3"
)

// Key fingerprints everything pagination depends on structurally: the content
// context, the ordered block identifiers, the page capacity and the font size.
// Block text is deliberately left out, so merging a translation never changes
// the key and never reflows pages.
func Key(chapterID, lang string, blocks []content.Block, pageHeight float64, fontSize int) string {
	h := blake3.New()
	var buf [8]byte

	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(s))
	}

	writeString(chapterID)
	writeString(lang)
	binary.LittleEndian.PutUint64(buf[:], uint64(len(blocks)))
	_, _ = h.Write(buf[:])
	for _, b := range blocks {
		writeString(b.ID)
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(pageHeight))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(fontSize)))
	_, _ = h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}
