package merge

import (
	"bytes"
	"testing"

	"github.com/vlbadb/vlbadb/storage/extent"
)

func TestDataWriterCopyMediumRoundTrips(t *testing.T) {
	alloc := extent.NewMemoryAllocator()
	id, err := alloc.Alloc(extent.PolicyDefaultRDA, 1, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	ext, err := alloc.Open(id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	w, err := NewDataWriter(ext)
	if err != nil {
		t.Fatalf("new data writer: %v", err)
	}
	defer w.Close()

	raw := bytes.Repeat([]byte("hello world"), 50)
	offset, length, err := w.CopyMedium(raw)
	if err != nil {
		t.Fatalf("copy medium: %v", err)
	}
	if length == 0 {
		t.Fatalf("expected non-zero compressed length")
	}

	got, err := w.ReadMedium(offset, length)
	if err != nil {
		t.Fatalf("read medium: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(raw))
	}

	if w.ExtentID() != uint64(id) {
		t.Fatalf("expected extent id %d, got %d", id, w.ExtentID())
	}
}
