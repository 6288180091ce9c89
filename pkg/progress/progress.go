// Package progress accumulates byte and item counts for one download run.
package progress

import "sync"

// Progress is a point in time snapshot of a run.
type Progress struct {
	ItemsCompleted int
	ItemsTotal     int
	BytesCompleted int64
	BytesTotal     int64
}

// Percent returns floor(100 * BytesCompleted / max(BytesTotal, 1)) capped at
// 100.
func (p Progress) Percent() int {
	total := p.BytesTotal
	if total < 1 {
		total = 1
	}
	pct := p.BytesCompleted * 100 / total
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return int(pct)
}

// Accumulator is the single owner of a run's counters. Observers only ever
// see Snapshot values. The reported percent never decreases, even if an
// item's in-flight byte count is reset.
type Accumulator struct {
	mu        sync.Mutex
	itemsDone int
	items     int
	finished  int64
	inflight  int64
	total     int64
	high      int64
}

// NewAccumulator creates an accumulator for items totalling totalBytes.
func NewAccumulator(items int, totalBytes int64) *Accumulator {
	return &Accumulator{items: items, total: totalBytes}
}

// Received records n more bytes for the item in flight.
func (a *Accumulator) Received(n int64) Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight += n
	return a.snapshotLocked()
}

// ItemDone moves the in-flight bytes into the finished total.
func (a *Accumulator) ItemDone() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished += a.inflight
	a.inflight = 0
	a.itemsDone++
	return a.snapshotLocked()
}

// ItemAborted drops the in-flight bytes of a failed or cancelled item.
func (a *Accumulator) ItemAborted() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight = 0
	return a.snapshotLocked()
}

// Snapshot returns the current progress.
func (a *Accumulator) Snapshot() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accumulator) snapshotLocked() Progress {
	done := a.finished + a.inflight
	if done > a.high {
		a.high = done
	}
	return Progress{
		ItemsCompleted: a.itemsDone,
		ItemsTotal:     a.items,
		BytesCompleted: a.high,
		BytesTotal:     a.total,
	}
}
