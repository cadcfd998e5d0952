package merge

import "testing"

func TestOutputLevelNormalMerge(t *testing.T) {
	if got := OutputLevel(3, false, 0, 0, 0); got != 4 {
		t.Fatalf("expected level 4, got %d", got)
	}
}

func TestOutputLevelTotalMergeClampedToMinTwo(t *testing.T) {
	got := OutputLevel(0, true, 5, 5, 0)
	if got != 2 {
		t.Fatalf("expected clamp to 2, got %d", got)
	}
}

func TestOutputLevelTotalMergeScalesWithUsage(t *testing.T) {
	// nr_units = max(200/20, 0/20) = 10, ceil(log2(10)) = 4
	got := OutputLevel(0, true, 200, 0, 0)
	if got != 4 {
		t.Fatalf("expected level 4, got %d", got)
	}
}

func TestOutputLevelTotalMergePlacedAboveHighestOccupied(t *testing.T) {
	got := OutputLevel(0, true, 200, 0, 6)
	if got != 7 {
		t.Fatalf("expected level 7 (above highest occupied), got %d", got)
	}
}
