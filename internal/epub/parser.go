package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
)

// bookNamespace scopes the name-based UUIDs given to books and chapters.
var bookNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://globoox.app/epub"))

type Parser struct {
	logger *logrus.Logger
}

func NewParser(logger *logrus.Logger) *Parser {
	return &Parser{logger: logger}
}

// Open reads an EPUB file. Identifiers are derived from the book's own
// identifier, so re-importing the same book keeps every id.
func (p *Parser) Open(epubPath string) (*Book, error) {
	p.logger.Debugf("Parsing EPUB: %s", epubPath)

	reader, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open EPUB: %w", err)
	}
	defer reader.Close()

	book, err := p.Parse(&reader.Reader, epubPath)
	if err != nil {
		return nil, err
	}
	p.logger.Debugf("Successfully parsed EPUB with %d chapters", len(book.Chapters))
	return book, nil
}

// Parse reads an EPUB from an open archive.
func (p *Parser) Parse(archive *zip.Reader, epubPath string) (*Book, error) {
	var container Container
	if err := readXML(archive, "META-INF/container.xml", &container); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in container.xml")
	}

	opfPath := container.Rootfiles[0].FullPath
	var pkg Package
	if err := readXML(archive, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package: %w", err)
	}

	identity := strings.TrimSpace(pkg.Metadata.Identifier)
	if identity == "" {
		identity = filepath.Base(epubPath)
	}
	book := &Book{
		ID:         BookID(identity),
		FilePath:   epubPath,
		Metadata:   pkg.Metadata,
		packageDir: path.Dir(opfPath),
	}
	book.Metadata.Title = strings.TrimSpace(book.Metadata.Title)
	if book.Metadata.Title == "" {
		book.Metadata.Title = strings.TrimSuffix(filepath.Base(epubPath), filepath.Ext(epubPath))
	}

	if err := p.extractChapters(archive, book, pkg); err != nil {
		return nil, fmt.Errorf("failed to extract chapters: %w", err)
	}
	if err := Validate(book); err != nil {
		return nil, err
	}
	return book, nil
}

func (p *Parser) extractChapters(archive *zip.Reader, book *Book, pkg Package) error {
	itemMap := make(map[string]Item)
	for _, item := range pkg.Manifest.Items {
		itemMap[item.ID] = item
	}
	bookUUID := uuid.MustParse(book.ID)

	for _, itemRef := range pkg.Spine.ItemRefs {
		item, exists := itemMap[itemRef.IDRef]
		if !exists {
			p.logger.Warnf("Item not found in manifest: %s", itemRef.IDRef)
			continue
		}
		if !isTextContent(item.MediaType) || itemRef.Linear == "no" || strings.Contains(item.Properties, "nav") {
			continue
		}

		chapterPath := resolveHref(book.packageDir, item.Href)
		data, err := fs.ReadFile(archive, chapterPath)
		if err != nil {
			p.logger.Warnf("Failed to read chapter %s: %v", chapterPath, err)
			continue
		}

		chapterDir := path.Dir(chapterPath)
		blocks, err := BlocksFromHTML(bytes.NewReader(data), func(src string) string {
			return rewriteMediaURL(book.ID, chapterDir, src)
		})
		if err != nil {
			p.logger.Warnf("Failed to split chapter %s: %v", chapterPath, err)
			continue
		}
		if len(blocks) == 0 {
			continue
		}

		index := len(book.Chapters)
		book.Chapters = append(book.Chapters, Chapter{
			ID:     uuid.NewSHA1(bookUUID, []byte(item.Href)).String(),
			Index:  index,
			Title:  extractTitle(data, index),
			Href:   item.Href,
			Blocks: blocks,
		})
	}
	return nil
}

// ReadAsset returns an archive member referenced by a rewritten media URL.
func (p *Parser) ReadAsset(epubPath, name string) ([]byte, string, error) {
	reader, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open EPUB: %w", err)
	}
	defer reader.Close()

	name = path.Clean(strings.TrimPrefix(name, "/"))
	if strings.HasPrefix(name, "../") {
		return nil, "", fmt.Errorf("invalid asset path: %s", name)
	}
	data, err := fs.ReadFile(reader, name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset %s: %w", name, err)
	}
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// BookID derives the stable book id from the EPUB's identifier.
func BookID(identity string) string {
	return uuid.NewSHA1(bookNamespace, []byte(identity)).String()
}

// AssetURL is where the dev backend serves an archive member of a book.
func AssetURL(bookID, name string) string {
	return "/api/books/" + bookID + "/assets/" + name
}

// rewriteMediaURL turns a chapter-relative image source into an absolute URL
// for serving from the archive.
func rewriteMediaURL(bookID, chapterDir, src string) string {
	if strings.HasPrefix(src, "http") || strings.HasPrefix(src, "/") || strings.HasPrefix(src, "data:") {
		return src
	}
	return AssetURL(bookID, resolveHref(chapterDir, src))
}

func resolveHref(dir, href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return path.Clean(path.Join(dir, href))
}

func readXML(archive *zip.Reader, name string, v interface{}) error {
	data, err := fs.ReadFile(archive, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func extractTitle(data []byte, index int) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err == nil {
		for _, sel := range []string{"h1, h2, h3", "title"} {
			if title := cleanText(doc.Find(sel).First().Text()); title != "" {
				return title
			}
		}
	}
	return fmt.Sprintf("Chapter %d", index+1)
}

func Validate(book *Book) error {
	if book == nil {
		return fmt.Errorf("book is nil")
	}
	if book.ID == "" {
		return fmt.Errorf("book ID is empty")
	}
	if len(book.Chapters) == 0 {
		return fmt.Errorf("no chapters extracted")
	}
	for _, ch := range book.Chapters {
		if err := content.ValidateOrder(ch.Blocks); err != nil {
			return fmt.Errorf("chapter %s: %w", ch.ID, err)
		}
	}
	return nil
}

func isTextContent(mediaType string) bool {
	return strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xhtml")
}
