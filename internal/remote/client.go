// Package remote is the HTTP client for the book service: catalogue,
// chapter content, streamed translations, reading positions and language
// preference.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/translation"
)

var ErrNotFound = errors.New("not found")

const (
	ContentTypeNDJSON = "application/x-ndjson"
	acceptTranslate   = ContentTypeNDJSON + ", application/json"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Options configure the remote client. An empty Token means signed out.
type Options struct {
	BaseURL string
	// Token is the bearer token of a signed-in reader. Empty means
	// anonymous.
	Token   string
	Timeout time.Duration
}

// Client talks to the remote book service.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a client for the service at opts.BaseURL.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: timeout,
		// No client-wide timeout: translation responses stream for as long
		// as the batch takes. Plain calls use a context deadline instead.
		http:   &http.Client{},
		logger: logger,
	}
}

// SignedIn reports whether requests carry a bearer token.
func (c *Client) SignedIn() bool {
	return c.token != ""
}

func (c *Client) FetchBook(ctx context.Context, bookID string) (content.Book, error) {
	var book content.Book
	if err := c.getJSON(ctx, "/api/books/"+url.PathEscape(bookID), &book); err != nil {
		return content.Book{}, fmt.Errorf("failed to fetch book %s: %w", bookID, err)
	}
	return book, nil
}

func (c *Client) FetchBooks(ctx context.Context) ([]content.Book, error) {
	var books []content.Book
	if err := c.getJSON(ctx, "/api/books", &books); err != nil {
		return nil, fmt.Errorf("failed to fetch books: %w", err)
	}
	return books, nil
}

func (c *Client) FetchChapters(ctx context.Context, bookID string) ([]content.Chapter, error) {
	var chapters []content.Chapter
	if err := c.getJSON(ctx, "/api/books/"+url.PathEscape(bookID)+"/chapters", &chapters); err != nil {
		return nil, fmt.Errorf("failed to fetch chapters of %s: %w", bookID, err)
	}
	return chapters, nil
}

// FetchContent returns the chapter's blocks in lang, with whatever
// translations the service already has merged in. An empty lang requests
// the source text.
func (c *Client) FetchContent(ctx context.Context, chapterID, lang string) ([]content.Block, error) {
	path := "/api/chapters/" + url.PathEscape(chapterID) + "/content"
	if lang != "" {
		path += "?lang=" + url.QueryEscape(content.WireLang(lang))
	}
	var blocks []content.Block
	if err := c.getJSON(ctx, path, &blocks); err != nil {
		return nil, fmt.Errorf("failed to fetch content of %s: %w", chapterID, err)
	}
	return blocks, nil
}

type translateBody struct {
	Lang          string   `json:"lang"`
	BlockIDs      []string `json:"blockIds"`
	AnchorBlockID string   `json:"anchorBlockId,omitempty"`
	Direction     string   `json:"direction,omitempty"`
}

// Translate posts a batch and feeds each result to onResult as soon as it
// arrives. Servers that answer with a plain JSON array of blocks are
// handled too.
func (c *Client) Translate(ctx context.Context, req translation.Request, onResult func(translation.Result)) error {
	body, err := json.Marshal(translateBody{
		Lang:          content.WireLang(req.Lang),
		BlockIDs:      req.BlockIDs,
		AnchorBlockID: req.AnchorBlockID,
		Direction:     req.Direction,
	})
	if err != nil {
		return err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chapters/"+url.PathEscape(req.ChapterID)+"/translate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", acceptTranslate)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send translate request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == ContentTypeNDJSON {
		skipped, err := translation.DecodeStream(resp.Body, onResult)
		if skipped > 0 {
			c.logger.WithFields(logrus.Fields{
				"chapter_id": req.ChapterID,
				"skipped":    skipped,
			}).Warn("Skipped malformed translation stream lines")
		}
		if err != nil {
			return fmt.Errorf("failed to read translation stream: %w", err)
		}
		return nil
	}

	if err := translation.DecodeBlockArray(resp.Body, onResult); err != nil {
		return fmt.Errorf("failed to read translated blocks: %w", err)
	}
	return nil
}

// FetchReadingPosition returns the stored position. ok is false when the
// service has none.
func (c *Client) FetchReadingPosition(ctx context.Context, bookID string) (position.Anchor, bool, error) {
	var raw json.RawMessage
	err := c.getJSON(ctx, "/api/books/"+url.PathEscape(bookID)+"/reading-position", &raw)
	if errors.Is(err, ErrNotFound) {
		return position.Anchor{}, false, nil
	}
	if err != nil {
		return position.Anchor{}, false, fmt.Errorf("failed to fetch reading position of %s: %w", bookID, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return position.Anchor{}, false, nil
	}

	var a position.Anchor
	if err := json.Unmarshal(raw, &a); err != nil {
		return position.Anchor{}, false, fmt.Errorf("failed to parse reading position: %w", err)
	}
	if a.BlockID == "" {
		return position.Anchor{}, false, nil
	}
	return a, true, nil
}

func (c *Client) SavePosition(ctx context.Context, bookID string, a position.Anchor) error {
	if a.Lang != "" {
		a.Lang = content.WireLang(a.Lang)
	}
	if err := c.sendJSON(ctx, http.MethodPut, "/api/books/"+url.PathEscape(bookID)+"/reading-position", a); err != nil {
		return fmt.Errorf("failed to save reading position of %s: %w", bookID, err)
	}
	return nil
}

// UpdateLanguage records the reader's language choice for a book.
func (c *Client) UpdateLanguage(ctx context.Context, bookID, lang string) error {
	body := map[string]string{"selected_language": content.WireLang(lang)}
	if err := c.sendJSON(ctx, http.MethodPatch, "/api/books/"+url.PathEscape(bookID)+"/language", body); err != nil {
		return fmt.Errorf("failed to update language of %s: %w", bookID, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// checkResponse turns a non-2xx response into an APIError, taking the
// message from the body's "message" or "error" field when present.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
