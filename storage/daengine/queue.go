package daengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vlbadb/vlbadb/hashutil"
	"github.com/vlbadb/vlbadb/storage"
)

// replenishPeriod is the SPEC_FULL-mandated 10 Hz budget replenish tick
// (§4.7).
const replenishPeriod = 100 * time.Millisecond

// WriteRequest is one foreground insert routed through a per-CPU wait
// queue (SPEC_FULL §4.7).
type WriteRequest struct {
	FirstDimension []byte
	Entry          storage.Entry
	Submit         func(storage.Entry) error
	done           chan error
}

// Wait blocks until the request has been submitted to the btree (or
// the queue/DA shut down) and returns the submission error.
func (r *WriteRequest) Wait() error { return <-r.done }

// cpuQueue is one request-CPU's FIFO wait queue.
type cpuQueue struct {
	mu      sync.Mutex
	pending []*WriteRequest
}

// cpuQueues fans inserts out across one FIFO queue per request CPU and
// runs the ios_budget replenish/kick loop (SPEC_FULL §4.7).
type cpuQueues struct {
	da  *DA
	qs  []*cpuQueue

	limiter *rate.Limiter // built at the replenish period but not consulted; a time.Ticker drives replenish

	iosBudget int64 // atomic via mu below, kept simple since ticks are single-goroutine
	iosRate   int64
	mu        sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCPUQueues(cpuCount int, da *DA) *cpuQueues {
	if cpuCount < 1 {
		cpuCount = 1
	}
	qs := make([]*cpuQueue, cpuCount)
	for i := range qs {
		qs[i] = &cpuQueue{}
	}
	return &cpuQueues{
		da:      da,
		qs:      qs,
		limiter: rate.NewLimiter(rate.Every(replenishPeriod), 1),
		iosRate: int64(^uint64(0) >> 1), // INT_MAX: inserts unrestricted until merge-restart says otherwise
	}
}

func (q *cpuQueues) start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.wg.Add(1)
	go q.replenishLoop(ctx)
}

func (q *cpuQueues) stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *cpuQueues) replenishLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(replenishPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.replenish()
		}
	}
}

// replenish resets ios_budget to ios_rate and kicks every non-empty
// queue (SPEC_FULL §4.7).
func (q *cpuQueues) replenish() {
	q.mu.Lock()
	q.iosBudget = q.iosRate
	q.mu.Unlock()
	for _, cq := range q.qs {
		q.kick(cq)
	}
}

// kick drains cq while the shared budget remains positive.
func (q *cpuQueues) kick(cq *cpuQueue) {
	for {
		q.mu.Lock()
		if q.iosBudget <= 0 {
			q.mu.Unlock()
			return
		}
		cq.mu.Lock()
		if len(cq.pending) == 0 {
			cq.mu.Unlock()
			q.mu.Unlock()
			return
		}
		req := cq.pending[0]
		cq.pending = cq.pending[1:]
		cq.mu.Unlock()
		q.iosBudget--
		q.mu.Unlock()

		req.done <- req.Submit(req.Entry)
		close(req.done)
	}
}

// SetIOSRate sets the per-replenish-tick insert budget; merge-restart
// sets this to 0 (inserts disabled, overloaded) or INT_MAX (SPEC_FULL
// §4.7).
func (q *cpuQueues) SetIOSRate(rate int64) {
	q.mu.Lock()
	q.iosRate = rate
	q.mu.Unlock()
}

// Submit routes req to cpu_index = hash(first_key_dimension) mod
// cpu_count. If the budget is positive and the target queue is empty,
// it bypasses the queue and submits immediately; otherwise it enqueues
// and a later replenish tick drains it.
func (q *cpuQueues) Submit(req *WriteRequest) {
	req.done = make(chan error, 1)
	idx := hashutil.CPUIndex(req.FirstDimension, len(q.qs))
	cq := q.qs[idx]

	q.mu.Lock()
	budgetPositive := q.iosBudget > 0
	q.mu.Unlock()

	cq.mu.Lock()
	empty := len(cq.pending) == 0
	if budgetPositive && empty {
		cq.mu.Unlock()
		q.mu.Lock()
		q.iosBudget--
		q.mu.Unlock()
		req.done <- req.Submit(req.Entry)
		close(req.done)
		return
	}
	cq.pending = append(cq.pending, req)
	cq.mu.Unlock()
}
