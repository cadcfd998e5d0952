package daengine

import (
	"testing"
	"time"
)

func TestNewDACreatesLevelZeroCT(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	sizes := da.SizeGet()
	if len(sizes) < 1 || sizes[0] != 1 {
		t.Fatalf("expected exactly one level-0 CT, got %v", sizes)
	}
}

func TestDADestroyFailsWhileAttached(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	da.Attach()
	if err := da.Destroy(); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	da.Detach()
	if err := da.Destroy(); err != nil {
		t.Fatalf("expected clean destroy, got %v", err)
	}
}

func TestDAAppendAtGrowsLevels(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	ct := NewDynamicCT(99, 1, 3)
	da.AppendAt(3, ct)
	if got := da.NrTrees(3); got != 1 {
		t.Fatalf("expected 1 tree at level 3, got %d", got)
	}
}

func TestDAGrowingBitMutualExclusion(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	if !da.TryGrowingBit() {
		t.Fatalf("expected first caller to win the growing bit")
	}
	if da.TryGrowingBit() {
		t.Fatalf("expected second caller to lose while held")
	}
	da.ClearGrowingBit()
	if !da.TryGrowingBit() {
		t.Fatalf("expected growing bit available again after clear")
	}
}

func TestSchedulerTicksWithoutPanicWhenNoMergeFuncWired(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	ct1 := NewDynamicCT(10, 1, 1)
	ct2 := NewDynamicCT(11, 1, 1)
	da.AppendAt(1, ct1)
	da.AppendAt(1, ct2)

	time.Sleep(60 * time.Millisecond)
	da.Destroy()
}
