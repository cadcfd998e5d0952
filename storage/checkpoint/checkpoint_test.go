package checkpoint

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDAEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := DAEntry{ID: 7, RootVersion: storage.Version(42)}
	if err := s.InsertDA(want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got []DAEntry
	if err := s.IterDA(func(e DAEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("iter: %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %v, want [%v]", got, want)
	}
}

func TestCTEntryRejectsLevelZero(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertCT(CTEntry{Seq: 1, Level: 0}); err == nil {
		t.Fatalf("expected error inserting level-0 CT entry")
	}
}

func TestCTEntryRoundTripAndDelete(t *testing.T) {
	s := openTestStore(t)
	entry := CTEntry{Seq: 5, DAID: 1, Level: 2, TreeDepth: 3, ItemCount: 100}
	if err := s.InsertCT(entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var found bool
	s.IterCT(func(e CTEntry) error {
		if e.Seq == 5 {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatalf("expected to find inserted CT entry")
	}

	if err := s.DeleteCT(5); err != nil {
		t.Fatalf("delete: %v", err)
	}
	found = false
	s.IterCT(func(e CTEntry) error {
		if e.Seq == 5 {
			found = true
		}
		return nil
	})
	if found {
		t.Fatalf("expected CT entry gone after delete")
	}
}

func TestLOEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertLO(LOEntry{ExtentID: 9, Length: 1024, CTSeq: 5}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int
	s.IterLO(func(e LOEntry) error { count++; return nil })
	if count != 1 {
		t.Fatalf("expected 1 LO entry, got %d", count)
	}
}
