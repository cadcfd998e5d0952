package daengine

import "testing"

func TestBacklogFormula(t *testing.T) {
	// level 2, nr_trees=4, prev units=3, this units=1:
	// 2^(2-1)*(4-2) + 3 - 1 = 2*2 + 2 = 6
	got := backlog(2, 4, 3, 1)
	if got != 6 {
		t.Fatalf("backlog = %d, want 6", got)
	}
}

func TestDecideProceedsImmediatelyWhenBacklogHigh(t *testing.T) {
	pool := newTokenPool(4)
	var dt *token
	decision, _ := decide(pool, 2, 10, 0, 0, false, false, &dt, false)
	if decision != decisionProceed {
		t.Fatalf("expected immediate proceed on high backlog")
	}
}

func TestDecideDriverMintsAndActivatesToken(t *testing.T) {
	pool := newTokenPool(4)
	var dt *token
	// backlog <= 1 (nrTrees=2 => unit*(2-2)=0, plus 0-0=0) and isDriver=true
	decision, tk := decide(pool, 1, 2, 0, 0, true, false, &dt, false)
	if decision != decisionProceed {
		t.Fatalf("expected driver to proceed")
	}
	if tk == nil {
		t.Fatalf("expected driver to mint a token")
	}
	if !tk.active {
		t.Fatalf("expected token activated")
	}
}

func TestDecideWaitsWhenBacklogZeroAndNotDriver(t *testing.T) {
	pool := newTokenPool(4)
	var dt *token
	decision, _ := decide(pool, 2, 2, 0, 0, false, false, &dt, false)
	if decision != decisionWait {
		t.Fatalf("expected wait, got %v", decision)
	}
}

func TestDecideDrainsToDriverWhenNoHigherMergeActive(t *testing.T) {
	pool := newTokenPool(4)
	held := pool.mint(2)
	pool.pushInactive(2, held)
	freeBefore := len(pool.free)

	var dt *token
	// backlog <= 0 at level 2: unit*(nrTrees-2) + prev - cur = 2*(2-2)+0-5 < 0
	decision, _ := decide(pool, 2, 2, 0, 5, false, false, &dt, false)
	if decision != decisionWait {
		t.Fatalf("expected wait, got %v", decision)
	}
	if len(pool.byLvl[3]) != 0 {
		t.Fatalf("expected nothing pushed to level 3, got %v", pool.byLvl[3])
	}
	if len(pool.free) != freeBefore+1 {
		t.Fatalf("expected drained token returned to free pool")
	}
}

func TestDecidePushesUpWhenHigherMergeActive(t *testing.T) {
	pool := newTokenPool(4)
	held := pool.mint(2)
	pool.pushInactive(2, held)

	var dt *token
	decision, _ := decide(pool, 2, 2, 0, 5, false, false, &dt, true)
	if decision != decisionWait {
		t.Fatalf("expected wait, got %v", decision)
	}
	if len(pool.byLvl[3]) != 1 {
		t.Fatalf("expected drained token pushed to level 3, got %v", pool.byLvl[3])
	}
}

func TestDecideExitingAlwaysProceeds(t *testing.T) {
	pool := newTokenPool(4)
	var dt *token
	decision, _ := decide(pool, 2, 2, 0, 0, false, true, &dt, false)
	if decision != decisionProceed {
		t.Fatalf("expected exiting DA to proceed regardless of backlog")
	}
}
