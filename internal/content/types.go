package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownBlockType = errors.New("unknown block type")

type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockQuote     BlockType = "quote"
	BlockList      BlockType = "list"
	BlockImage     BlockType = "image"
	BlockHR        BlockType = "hr"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockParagraph, BlockHeading, BlockQuote, BlockList, BlockImage, BlockHR:
		return true
	}
	return false
}

// Block is the smallest unit of chapter content. The variant is selected by
// Type; fields that do not belong to the variant stay empty.
type Block struct {
	ID       string    `json:"id"`
	Position int       `json:"position"`
	Type     BlockType `json:"type"`

	// paragraph, heading, quote
	Text  string `json:"text,omitempty"`
	Level int    `json:"level,omitempty"`

	// list
	Ordered bool     `json:"ordered,omitempty"`
	Items   []string `json:"items,omitempty"`

	// image
	Src     string `json:"src,omitempty"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type plain Block
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if !decoded.Type.Valid() {
		return fmt.Errorf("block %q: %w: %q", decoded.ID, ErrUnknownBlockType, decoded.Type)
	}
	*b = Block(decoded)
	return nil
}

// Translatable reports whether the block carries text that can be replaced
// by a translation. Images and dividers never are.
func (b Block) Translatable() bool {
	switch b.Type {
	case BlockParagraph, BlockHeading, BlockQuote, BlockList:
		return true
	}
	return false
}

// TranslationText returns the source text a translator receives for the block.
// List items are joined by newlines, matching how translations are split back.
func (b Block) TranslationText() string {
	switch b.Type {
	case BlockParagraph, BlockHeading, BlockQuote:
		return b.Text
	case BlockList:
		return strings.Join(b.Items, "\n")
	}
	return ""
}

// ApplyTranslation returns a copy of the block with translated text merged
// into the field(s) of its variant. ok is false for blocks that carry no text.
func (b Block) ApplyTranslation(translated string) (Block, bool) {
	switch b.Type {
	case BlockParagraph, BlockHeading, BlockQuote:
		b.Text = translated
		return b, true
	case BlockList:
		var items []string
		for _, item := range strings.Split(translated, "\n") {
			if item != "" {
				items = append(items, item)
			}
		}
		b.Items = items
		return b, true
	}
	return b, false
}

type Book struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Author             string   `json:"author,omitempty"`
	CoverURL           string   `json:"cover_url,omitempty"`
	OriginalLanguage   string   `json:"original_language,omitempty"`
	AvailableLanguages []string `json:"available_languages"`
	Status             string   `json:"status,omitempty"`
}

type Chapter struct {
	ID     string `json:"id"`
	BookID string `json:"book_id"`
	Index  int    `json:"index"`
	Title  string `json:"title"`
}
