package content

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestApplyTranslation(t *testing.T) {
	testCases := []struct {
		name     string
		block    Block
		text     string
		wantOK   bool
		wantText string
		wantList []string
	}{
		{
			name:     "Paragraph replaces text",
			block:    Block{ID: "p", Type: BlockParagraph, Text: "Hello"},
			text:     "Bonjour",
			wantOK:   true,
			wantText: "Bonjour",
		},
		{
			name:     "Heading keeps level",
			block:    Block{ID: "h", Type: BlockHeading, Level: 2, Text: "Title"},
			text:     "Titre",
			wantOK:   true,
			wantText: "Titre",
		},
		{
			name:     "List splits on newlines and drops empty items",
			block:    Block{ID: "l", Type: BlockList, Items: []string{"one", "two"}},
			text:     "un\n\ndeux\n",
			wantOK:   true,
			wantList: []string{"un", "deux"},
		},
		{
			name:   "Image is never translated",
			block:  Block{ID: "i", Type: BlockImage, Src: "a.png"},
			text:   "whatever",
			wantOK: false,
		},
		{
			name:   "Divider is never translated",
			block:  Block{ID: "hr", Type: BlockHR},
			text:   "whatever",
			wantOK: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.block.ApplyTranslation(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tc.wantOK, ok)
			}
			if !ok {
				return
			}
			if tc.block.Type == BlockList {
				if !reflect.DeepEqual(got.Items, tc.wantList) {
					t.Errorf("Expected items %v, got %v", tc.wantList, got.Items)
				}
				return
			}
			if got.Text != tc.wantText {
				t.Errorf("Expected text %q, got %q", tc.wantText, got.Text)
			}
			if got.Level != tc.block.Level || got.ID != tc.block.ID {
				t.Errorf("Translation changed identity fields: %+v", got)
			}
		})
	}
}

func TestApplyTranslationDoesNotMutateOriginal(t *testing.T) {
	original := Block{ID: "l", Type: BlockList, Items: []string{"one"}}
	if _, ok := original.ApplyTranslation("uno"); !ok {
		t.Fatal("Expected list to accept translation")
	}
	if original.Items[0] != "one" {
		t.Errorf("Original block was mutated: %v", original.Items)
	}
}

func TestTranslationTextJoinsListItems(t *testing.T) {
	b := Block{Type: BlockList, Items: []string{"a", "b"}}
	if got := b.TranslationText(); got != "a\nb" {
		t.Errorf("Expected joined items, got %q", got)
	}
	if got := (Block{Type: BlockImage, Alt: "x"}).TranslationText(); got != "" {
		t.Errorf("Expected no text for image, got %q", got)
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	var blocks []Block
	err := json.Unmarshal([]byte(`[{"id":"a","position":0,"type":"table"}]`), &blocks)
	if !errors.Is(err, ErrUnknownBlockType) {
		t.Fatalf("Expected ErrUnknownBlockType, got %v", err)
	}
}

func TestUnmarshalVariants(t *testing.T) {
	data := `[
		{"id":"h1","position":0,"type":"heading","level":1,"text":"Chapter"},
		{"id":"l1","position":10,"type":"list","ordered":true,"items":["a","b"]},
		{"id":"i1","position":20,"type":"image","src":"x.png","alt":"x"}
	]`
	var blocks []Block
	if err := json.Unmarshal([]byte(data), &blocks); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if blocks[0].Level != 1 || blocks[1].Items[1] != "b" || !blocks[1].Ordered || blocks[2].Src != "x.png" {
		t.Errorf("Variant fields not decoded: %+v", blocks)
	}
	if err := ValidateOrder(blocks); err != nil {
		t.Errorf("Expected valid order, got %v", err)
	}
}

func TestValidateOrder(t *testing.T) {
	testCases := []struct {
		name    string
		blocks  []Block
		wantErr bool
	}{
		{"Empty", nil, false},
		{"Increasing", []Block{{ID: "a", Position: 0}, {ID: "b", Position: 5}}, false},
		{"Equal positions", []Block{{ID: "a", Position: 1}, {ID: "b", Position: 1}}, true},
		{"Duplicate ids", []Block{{ID: "a", Position: 0}, {ID: "a", Position: 1}}, true},
		{"Missing id", []Block{{Position: 0}}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOrder(tc.blocks)
			if (err != nil) != tc.wantErr {
				t.Errorf("Expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTranslatableIDs(t *testing.T) {
	blocks := []Block{
		{ID: "p", Type: BlockParagraph},
		{ID: "img", Type: BlockImage},
		{ID: "hr", Type: BlockHR},
		{ID: "q", Type: BlockQuote},
	}
	got := TranslatableIDs(blocks, []string{"p", "img", "hr", "q", "missing"})
	if !reflect.DeepEqual(got, []string{"p", "q"}) {
		t.Errorf("Expected [p q], got %v", got)
	}
}

func TestNormalizeLang(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"en", "en", false},
		{"EN", "en", false},
		{"pt-BR", "pt", false},
		{" fr ", "fr", false},
		{"", "", true},
		{"not a tag", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeLang(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error=%v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
	if WireLang("de-AT") != "DE" {
		t.Errorf("Expected DE, got %q", WireLang("de-AT"))
	}
	if !SameLanguage("EN", "en-GB") {
		t.Error("Expected EN and en-GB to be the same language")
	}
}

func TestIsRTL(t *testing.T) {
	testCases := map[string]bool{
		"ar":    true,
		"fa-IR": true,
		"HE":    true,
		"en":    false,
		"":      false,
	}
	for code, want := range testCases {
		if got := IsRTL(code); got != want {
			t.Errorf("IsRTL(%q) = %v, want %v", code, got, want)
		}
	}
}
