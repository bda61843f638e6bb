package translation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamDecoder turns a newline-delimited JSON stream into Results as bytes
// arrive. A trailing partial line is held until more data or Close.
// Malformed lines are skipped rather than failing the stream.
type StreamDecoder struct {
	buf     []byte
	emit    func(Result)
	decoded int
	skipped int
}

// NewStreamDecoder creates a decoder that calls emit for every result line.
func NewStreamDecoder(emit func(Result)) *StreamDecoder {
	return &StreamDecoder{emit: emit}
}

// Write appends p and emits every line it completes. It never fails.
func (d *StreamDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		d.parseLine(d.buf[start : start+i])
		start += i + 1
	}
	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
	return len(p), nil
}

// Close parses whatever is left in the buffer as a final line.
func (d *StreamDecoder) Close() error {
	if len(d.buf) > 0 {
		d.parseLine(d.buf)
		d.buf = d.buf[:0]
	}
	return nil
}

// Decoded returns the number of results emitted.
func (d *StreamDecoder) Decoded() int { return d.decoded }

// Skipped returns the number of malformed lines dropped.
func (d *StreamDecoder) Skipped() int { return d.skipped }

func (d *StreamDecoder) parseLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var r Result
	if err := json.Unmarshal(line, &r); err != nil || r.BlockID == "" {
		d.skipped++
		return
	}
	if r.Status == "" {
		r.Status = StatusOK
	}
	d.decoded++
	d.emit(r)
}

// DecodeStream feeds r through a StreamDecoder until EOF. The returned count
// is the number of skipped lines.
func DecodeStream(r io.Reader, emit func(Result)) (int, error) {
	dec := NewStreamDecoder(emit)
	if _, err := io.Copy(dec, r); err != nil {
		return dec.Skipped(), err
	}
	_ = dec.Close()
	return dec.Skipped(), nil
}

// arrayBlock is the subset of a content block the compatibility path needs.
type arrayBlock struct {
	ID    string   `json:"id"`
	Type  string   `json:"type"`
	Text  *string  `json:"text"`
	Items []string `json:"items"`
}

// DecodeBlockArray reads the one-shot response format: a JSON array of
// content blocks carrying translated text or items. Elements are emitted as
// they are decoded.
func DecodeBlockArray(r io.Reader, emit func(Result)) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read translation array: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("unexpected translation response token %v", tok)
	}

	for dec.More() {
		var b arrayBlock
		if err := dec.Decode(&b); err != nil {
			return fmt.Errorf("failed to decode translated block: %w", err)
		}
		if b.ID == "" {
			continue
		}
		res := Result{BlockID: b.ID, Status: StatusOK, Cache: CacheMiss}
		switch {
		case b.Text != nil:
			res.TranslatedText = *b.Text
		case b.Items != nil:
			res.TranslatedText = strings.Join(b.Items, "\n")
		}
		emit(res)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to close translation array: %w", err)
	}
	return nil
}

// EncodeResult writes r as one NDJSON line.
func EncodeResult(w io.Writer, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
