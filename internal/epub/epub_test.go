package epub_test

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/epub"
	"github.com/condr-at/globoox-preview/internal/epub/epubtest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBlocksFromHTML(t *testing.T) {
	html := `<html><body>
		<h1>Chapter  One</h1>
		<p>First   paragraph
		   continues.</p>
		<div class="wrap"><p>Nested paragraph.</p></div>
		<blockquote><p>Line one.</p><p>Line two.</p></blockquote>
		<ul><li>alpha</li><li> </li><li>beta</li></ul>
		<ol><li>one</li></ol>
		<figure><img src="img/a.png" alt=" A "/><figcaption>Caption</figcaption></figure>
		<p><img src="b.png"/></p>
		<hr/>
		<h5>Deep heading</h5>
		<script>ignored()</script>
	</body></html>`

	blocks, err := epub.BlocksFromHTML(strings.NewReader(html), func(src string) string { return "/assets/" + src })
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []struct {
		typ  content.BlockType
		text string
	}{
		{content.BlockHeading, "Chapter One"},
		{content.BlockParagraph, "First paragraph continues."},
		{content.BlockParagraph, "Nested paragraph."},
		{content.BlockQuote, "Line one.\nLine two."},
		{content.BlockList, "alpha\nbeta"},
		{content.BlockList, "one"},
		{content.BlockImage, ""},
		{content.BlockImage, ""},
		{content.BlockHR, ""},
		{content.BlockHeading, "Deep heading"},
	}
	if len(blocks) != len(want) {
		t.Fatalf("Expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i, w := range want {
		b := blocks[i]
		if b.Type != w.typ || b.TranslationText() != w.text {
			t.Errorf("Block %d: expected %s %q, got %s %q", i, w.typ, w.text, b.Type, b.TranslationText())
		}
		if b.Position != i*epub.PositionStep {
			t.Errorf("Block %d: expected position %d, got %d", i, i*epub.PositionStep, b.Position)
		}
	}

	if !blocks[5].Ordered || blocks[4].Ordered {
		t.Error("Expected ol to be ordered and ul not")
	}
	if blocks[6].Src != "/assets/img/a.png" || blocks[6].Alt != "A" || blocks[6].Caption != "Caption" {
		t.Errorf("Unexpected figure image %+v", blocks[6])
	}
	if blocks[9].Level != 3 {
		t.Errorf("Expected deep heading clamped to level 3, got %d", blocks[9].Level)
	}
	if err := content.ValidateOrder(blocks); err != nil {
		t.Errorf("Expected valid block order: %v", err)
	}
}

func sampleBook() epubtest.Book {
	return epubtest.Book{
		Identifier: "urn:isbn:9780000000001",
		Title:      "Sample",
		Language:   "en",
		Chapters: []epubtest.Chapter{
			{Href: "text/ch1.xhtml", Body: `<h1>Start</h1><p>Hello.</p><p><img src="../images/cover.png" alt="cover"/></p>`},
			{Href: "text/empty.xhtml", Body: `<div> </div>`},
			{Href: "text/ch2.xhtml", Body: `<h2>Next</h2><p>World.</p>`},
		},
		Assets: map[string][]byte{"images/cover.png": []byte("png-bytes")},
	}
}

func TestParserOpen(t *testing.T) {
	dir := t.TempDir()
	path := epubtest.Write(t, dir, "sample.epub", sampleBook())
	p := epub.NewParser(quietLogger())

	book, err := p.Open(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if book.Metadata.Title != "Sample" || book.Metadata.Language != "en" || book.Metadata.Creator != "Test Author" {
		t.Errorf("Unexpected metadata %+v", book.Metadata)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("Expected chapters without blocks to be skipped, got %d", len(book.Chapters))
	}
	if book.Chapters[0].Title != "Start" || book.Chapters[1].Title != "Next" || book.Chapters[1].Index != 1 {
		t.Errorf("Unexpected chapters %+v", book.Chapters)
	}
	if book.Chapters[0].WordCount() != 2 {
		t.Errorf("Expected 2 words, got %d", book.Chapters[0].WordCount())
	}

	img := book.Chapters[0].Blocks[2]
	wantURL := epub.AssetURL(book.ID, "OEBPS/images/cover.png")
	if img.Type != content.BlockImage || img.Src != wantURL {
		t.Fatalf("Expected rewritten image %q, got %+v", wantURL, img)
	}
	data, contentType, err := p.ReadAsset(path, "OEBPS/images/cover.png")
	if err != nil || string(data) != "png-bytes" || contentType != "image/png" {
		t.Errorf("Unexpected asset %q %q %v", data, contentType, err)
	}
	if _, _, err := p.ReadAsset(path, "../etc/passwd"); err == nil {
		t.Error("Expected path escaping the archive to be rejected")
	}

	again, err := p.Open(epubtest.Write(t, dir, "copy.epub", sampleBook()))
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != book.ID || again.Chapters[1].ID != book.Chapters[1].ID {
		t.Error("Expected ids to be stable across imports of the same book")
	}
	if book.ID != epub.BookID("urn:isbn:9780000000001") {
		t.Error("Expected book id derived from the identifier")
	}
}

func TestParserRejectsBrokenArchive(t *testing.T) {
	dir := t.TempDir()
	path := epubtest.Write(t, dir, "empty.epub", epubtest.Book{Identifier: "x", Title: "Empty"})

	if _, err := epub.NewParser(quietLogger()).Open(path); err == nil {
		t.Fatal("Expected a book without chapters to be rejected")
	}
}
