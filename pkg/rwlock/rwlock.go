// pkg/rwlock/rwlock.go

// Package rwlock implements a write-preferring, multi-reader/single-writer
// lock: many readers may hold the lock concurrently, but once a writer
// arrives, no new reader may acquire it ahead of that writer, and the
// writer is guaranteed to proceed once the readers present at the time of
// its arrival have drained. This gives writers freedom from starvation at
// the cost of readers yielding to a pending writer.
//
// The representation and protocol mirror the standard library's own
// sync.RWMutex (nPending negative encodes "a writer is pending"), with
// the writer's final wakeup routed through an explicit event.Event instead
// of a runtime-internal semaphore, since the latter isn't available
// outside package sync.
package rwlock

import (
	"sync"
	"sync/atomic"

	"rcu/pkg/event"
)

// maxReaders bounds the number of concurrently active readers the sign
// encoding can represent without overflowing into the writer-pending bit.
const maxReaders = 1 << 30

// RWLock is a write-preferring reader/writer lock. The zero value is not
// usable; construct one with New.
type RWLock struct {
	writerMu sync.Mutex // serializes writers against each other

	nPending         atomic.Int32 // net reader intent; negative => writer pending
	readersDeparting atomic.Int32 // readers the current writer still waits on

	readerRelease *event.Event // posted when a pending writer finishes
	writerRelease *event.Event // posted by the last draining reader
}

// New returns an unlocked RWLock.
func New() *RWLock {
	return &RWLock{
		readerRelease: event.New(),
		writerRelease: event.New(),
	}
}

// RLock acquires the lock for reading. Multiple readers may hold it
// concurrently, but RLock blocks while a writer is pending or active.
func (l *RWLock) RLock() {
	if l.nPending.Add(1) < 0 {
		// A writer got here first (or is currently active); wait for it
		// to finish before joining the next reader cohort. WaitUntil
		// closes the gap between this check and blocking: a writer's
		// Unlock may run its Broadcast before we get there.
		l.readerRelease.WaitUntil(func() bool { return l.nPending.Load() >= 0 })
	}
}

// RUnlock releases a read lock previously acquired with RLock.
func (l *RWLock) RUnlock() {
	if l.nPending.Add(-1) < 0 {
		// A writer is pending; we may be the last reader it's waiting on.
		if l.readersDeparting.Add(-1) == 0 {
			l.writerRelease.Post()
		}
	}
}

// Lock acquires the lock exclusively. It blocks until every reader present
// at the time of the call has released, and prevents any new reader from
// acquiring the lock ahead of it.
func (l *RWLock) Lock() {
	l.writerMu.Lock()

	// Install the writer-pending bit and learn how many readers were
	// already present when we did.
	r := l.nPending.Add(-maxReaders) + maxReaders
	if r != 0 && l.readersDeparting.Add(r) != 0 {
		l.writerRelease.WaitUntil(func() bool { return l.readersDeparting.Load() == 0 })
	}
}

// Unlock releases the write lock, allowing new readers and the next
// waiting writer to proceed.
func (l *RWLock) Unlock() {
	l.nPending.Add(maxReaders)
	l.readerRelease.Broadcast()
	l.writerMu.Unlock()
}

// Stats reports the lock's current encoded counters for test and
// diagnostic observability. A negative Pending means a writer is pending
// or active; its magnitude below maxReaders is the count of readers that
// were, or still are, active.
type Stats struct {
	Pending          int32
	ReadersDeparting int32
}

// Stats returns a snapshot of the lock's internal counters.
func (l *RWLock) Stats() Stats {
	return Stats{
		Pending:          l.nPending.Load(),
		ReadersDeparting: l.readersDeparting.Load(),
	}
}
