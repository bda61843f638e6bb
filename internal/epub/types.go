package epub

import (
	"encoding/xml"

	"github.com/condr-at/globoox-preview/internal/content"
)

// Book is a parsed EPUB: metadata plus chapters already split into blocks.
type Book struct {
	ID       string    `json:"id"`
	FilePath string    `json:"file_path"`
	Metadata Metadata  `json:"metadata"`
	Chapters []Chapter `json:"chapters"`

	// packageDir is the directory of the OPF file inside the archive;
	// manifest hrefs are relative to it.
	packageDir string
}

type Chapter struct {
	ID     string          `json:"id"`
	Index  int             `json:"index"`
	Title  string          `json:"title"`
	Href   string          `json:"href"`
	Blocks []content.Block `json:"blocks"`
}

// WordCount counts the words of every translatable block in the chapter.
func (c Chapter) WordCount() int {
	n := 0
	for _, b := range c.Blocks {
		n += countWords(b.TranslationText())
	}
	return n
}

type Container struct {
	XMLName   xml.Name `xml:"container"`
	Version   string   `xml:"version,attr"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata Metadata `xml:"metadata"`
	Manifest Manifest `xml:"manifest"`
	Spine    Spine    `xml:"spine"`
}

type Metadata struct {
	Title       string `xml:"title" json:"title"`
	Language    string `xml:"language" json:"language"`
	Identifier  string `xml:"identifier" json:"identifier"`
	Creator     string `xml:"creator" json:"creator,omitempty"`
	Publisher   string `xml:"publisher" json:"publisher,omitempty"`
	Description string `xml:"description" json:"description,omitempty"`
}

type Manifest struct {
	Items []Item `xml:"item"`
}

type Item struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type Spine struct {
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}
