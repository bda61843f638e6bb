package epub

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/condr-at/globoox-preview/internal/content"
)

// PositionStep leaves room between consecutive block positions so content
// can be re-imported with blocks inserted without renumbering everything.
const PositionStep = 10

// BlocksFromHTML splits an XHTML chapter body into content blocks. rewrite,
// when non-nil, maps image sources to the URLs the reader loads them from.
func BlocksFromHTML(r io.Reader, rewrite func(src string) string) ([]content.Block, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chapter HTML: %w", err)
	}
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	w := &blockWalker{rewrite: rewrite}
	w.walk(root)
	return w.blocks, nil
}

type blockWalker struct {
	blocks  []content.Block
	rewrite func(string) string
}

func (w *blockWalker) add(b content.Block) {
	b.ID = fmt.Sprintf("b%d", len(w.blocks)+1)
	b.Position = len(w.blocks) * PositionStep
	w.blocks = append(w.blocks, b)
}

func (w *blockWalker) walk(sel *goquery.Selection) {
	sel.Children().Each(func(_ int, s *goquery.Selection) {
		switch tag := goquery.NodeName(s); tag {
		case "p":
			if text := cleanText(s.Text()); text != "" {
				w.add(content.Block{Type: content.BlockParagraph, Text: text})
			}
			s.Find("img").Each(func(_ int, img *goquery.Selection) { w.image(img, "") })
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if text := cleanText(s.Text()); text != "" {
				w.add(content.Block{Type: content.BlockHeading, Level: min(int(tag[1]-'0'), 3), Text: text})
			}
		case "blockquote":
			if text := quoteText(s); text != "" {
				w.add(content.Block{Type: content.BlockQuote, Text: text})
			}
		case "ul", "ol":
			var items []string
			s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
				if text := cleanText(li.Text()); text != "" {
					items = append(items, text)
				}
			})
			if len(items) > 0 {
				w.add(content.Block{Type: content.BlockList, Ordered: tag == "ol", Items: items})
			}
		case "img":
			w.image(s, "")
		case "figure":
			imgs := s.Find("img")
			if imgs.Length() == 0 {
				w.walk(s)
				return
			}
			caption := cleanText(s.Find("figcaption").Text())
			imgs.Each(func(i int, img *goquery.Selection) {
				if i > 0 {
					caption = ""
				}
				w.image(img, caption)
			})
		case "hr":
			w.add(content.Block{Type: content.BlockHR})
		case "script", "style", "nav", "head":
		default:
			w.walk(s)
		}
	})
}

func (w *blockWalker) image(img *goquery.Selection, caption string) {
	src, _ := img.Attr("src")
	if src == "" {
		return
	}
	if w.rewrite != nil {
		src = w.rewrite(src)
	}
	alt, _ := img.Attr("alt")
	w.add(content.Block{Type: content.BlockImage, Src: src, Alt: strings.TrimSpace(alt), Caption: caption})
}

// quoteText keeps paragraph breaks inside a quotation as newlines.
func quoteText(s *goquery.Selection) string {
	paras := s.Find("p")
	if paras.Length() == 0 {
		return cleanText(s.Text())
	}
	var lines []string
	paras.Each(func(_ int, p *goquery.Selection) {
		if text := cleanText(p.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, "\n")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
