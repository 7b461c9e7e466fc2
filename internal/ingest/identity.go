package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Page is one page of a multi-page (PDF) document after extraction.
type Page struct {
	PageNo int
	Text   string
}

const pageJoinSeparator = "\n\x1d\n"

// SourceRevision identifies one exact canonical rendering of a flat text
// source. Byte-identical content always hashes to the same revision.
func SourceRevision(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// PDFSourceRevision hashes a page set independent of input ordering: pages
// are sorted by page number before serialization, so a scraper that returns
// pages out of order still produces the same revision.
func PDFSourceRevision(pages []Page) string {
	sorted := make([]Page, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageNo < sorted[j].PageNo })

	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteString(pageJoinSeparator)
		}
		fmt.Fprintf(&b, "page:%d\n%s", p.PageNo, p.Text)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the globally unique, content-addressed id of one chunk.
// It doubles as the vector-index id, which is what makes retried upserts
// idempotent: unchanged content collides onto the same id.
func ChunkID(sourceID, sourceRevision string, pageNo *int, c Chunk) string {
	page := ""
	if pageNo != nil {
		page = fmt.Sprintf("%d", *pageNo)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d|text:%s", sourceID, sourceRevision, page, c.StartOffset, c.EndOffset, c.Text)
	return hex.EncodeToString(h.Sum(nil))
}

// TextHash fingerprints one chunk's canonical text on its own, for quick
// equality checks without re-deriving the full chunk id.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
