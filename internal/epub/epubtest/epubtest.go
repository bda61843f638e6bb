// Package epubtest builds small EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is one spine document. Body is the inner HTML of <body>.
type Chapter struct {
	Href string
	Body string
}

type Book struct {
	Identifier string
	Title      string
	Language   string
	Chapters   []Chapter
	// Assets maps archive paths under OEBPS/ to their bytes.
	Assets map[string][]byte
}

// Write creates the archive in dir and returns its path.
func Write(t testing.TB, dir, name string, book Book) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create EPUB: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	add := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	add("mimetype", "application/epub+zip")
	add("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)

	var manifest, spine strings.Builder
	for i, ch := range book.Chapters {
		fmt.Fprintf(&manifest, `<item id="c%d" href="%s" media-type="application/xhtml+xml"/>`+"\n", i, ch.Href)
		fmt.Fprintf(&spine, `<itemref idref="c%d"/>`+"\n", i)
		add("OEBPS/"+ch.Href, `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>`+ch.Href+`</title></head>
<body>`+ch.Body+`</body></html>`)
	}
	add("OEBPS/content.opf", `<?xml version="1.0" encoding="utf-8"?>
<package version="3.0" unique-identifier="uid" xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">`+book.Identifier+`</dc:identifier>
    <dc:title>`+book.Title+`</dc:title>
    <dc:language>`+book.Language+`</dc:language>
    <dc:creator>Test Author</dc:creator>
  </metadata>
  <manifest>
`+manifest.String()+`  </manifest>
  <spine>
`+spine.String()+`  </spine>
</package>`)

	for name, data := range book.Assets {
		w, err := zw.Create("OEBPS/" + name)
		if err != nil {
			t.Fatalf("Failed to add asset %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("Failed to write asset %s: %v", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish EPUB: %v", err)
	}
	return path
}
