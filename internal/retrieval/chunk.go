package retrieval

import (
	"fmt"
	"strings"
	"unicode"
)

// PageBreak separates pages in extracted text (pdftotext convention).
const PageBreak = "\f"

// Document is one corpus file split into pages. Pages are 1-based in
// citations.
type Document struct {
	Name  string
	Pages []string
}

// NewTextDocument splits text on form feeds into pages. Text without a form
// feed is a single page.
func NewTextDocument(name, text string) Document {
	return Document{Name: name, Pages: strings.Split(text, PageBreak)}
}

// Chunk is one indexed passage. Ordinal counts from 1 within its page.
type Chunk struct {
	ID      string
	Doc     string
	Page    int
	Ordinal int
	Text    string
}

// Citation renders the label the pipeline shows for this chunk.
func (c Chunk) Citation() string {
	return fmt.Sprintf("%s | page %d | chunk %d", c.Doc, c.Page, c.Ordinal)
}

// ChunkDocument splits every page of doc into overlapping windows of roughly
// size runes. Blank pages produce no chunks.
func ChunkDocument(doc Document, size, overlap int) []Chunk {
	var out []Chunk
	for i, page := range doc.Pages {
		for j, text := range splitText(page, size, overlap) {
			out = append(out, Chunk{
				ID:      fmt.Sprintf("%s#p%d#c%d", doc.Name, i+1, j+1),
				Doc:     doc.Name,
				Page:    i + 1,
				Ordinal: j + 1,
				Text:    text,
			})
		}
	}
	return out
}

// splitText cuts text into windows of at most size runes, stepping back by
// overlap runes between windows. A window end is moved back to the nearest
// whitespace in its second half when one exists.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			for cut := end; cut > start+size/2; cut-- {
				if unicode.IsSpace(runes[cut]) {
					end = cut
					break
				}
			}
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
