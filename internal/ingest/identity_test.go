package ingest

import "testing"

func TestSourceRevisionStable(t *testing.T) {
	a := SourceRevision("canonical body")
	b := SourceRevision("canonical body")
	if a != b {
		t.Fatal("identical content produced different revisions")
	}
	if a == SourceRevision("canonical body.") {
		t.Fatal("different content produced the same revision")
	}
}

func TestPDFSourceRevisionOrderIndependent(t *testing.T) {
	inOrder := []Page{{PageNo: 1, Text: "Alpha"}, {PageNo: 2, Text: "Beta"}}
	reversed := []Page{{PageNo: 2, Text: "Beta"}, {PageNo: 1, Text: "Alpha"}}

	if PDFSourceRevision(inOrder) != PDFSourceRevision(reversed) {
		t.Fatal("revision depends on page input order")
	}
	changed := []Page{{PageNo: 1, Text: "Alpha"}, {PageNo: 2, Text: "Gamma"}}
	if PDFSourceRevision(inOrder) == PDFSourceRevision(changed) {
		t.Fatal("revision ignores page content")
	}
}

func TestChunkIDStability(t *testing.T) {
	chunk := Chunk{StartOffset: 10, EndOffset: 42, Text: "exact canonical slice"}
	page := 3

	base := ChunkID("source-1", "rev-a", &page, chunk)
	if base != ChunkID("source-1", "rev-a", &page, chunk) {
		t.Fatal("chunk id is not stable")
	}

	variants := []string{
		ChunkID("source-2", "rev-a", &page, chunk),
		ChunkID("source-1", "rev-b", &page, chunk),
		ChunkID("source-1", "rev-a", nil, chunk),
		ChunkID("source-1", "rev-a", &page, Chunk{StartOffset: 11, EndOffset: 42, Text: "exact canonical slice"}),
		ChunkID("source-1", "rev-a", &page, Chunk{StartOffset: 10, EndOffset: 43, Text: "exact canonical slice"}),
		ChunkID("source-1", "rev-a", &page, Chunk{StartOffset: 10, EndOffset: 42, Text: "other canonical slice"}),
	}
	seen := map[string]bool{base: true}
	for i, v := range variants {
		if seen[v] {
			t.Fatalf("variant %d collided with a previous id", i)
		}
		seen[v] = true
	}
}

func TestApproxTokenCount(t *testing.T) {
	if ApproxTokenCount("") != 0 {
		t.Fatal("empty text should count zero tokens")
	}
	n := ApproxTokenCount("The quick brown fox jumps over the lazy dog.")
	if n <= 0 {
		t.Fatalf("token count should be positive, got %d", n)
	}
}
