// pkg/reclaim/reclaim.go

// Package reclaim implements generation-based RCU memory reclamation: it
// lets a single writer mutate a structure while readers traverse it
// concurrently, and guarantees that an object unlinked by the writer is
// not destroyed while any reader that could still hold a reference to it
// is active.
//
// Readers call Enter to pin the current generation and Leave when they're
// done with it. Writers publish their changes (with release-ordered
// stores on whatever they're protecting), call DeferDestroy to register a
// cleanup for anything they just unlinked, and call Synchronize to
// advance the generation and run every destructor that is now safe to
// run.
//
// Grounded on the teacher's pkg/cowbtree/epoch.go EpochManager, generalized
// from a per-reader sync.Map entry to one RefCount record shared by every
// reader pinned at a given generation (see DESIGN.md).
package reclaim

import (
	"errors"
	"sync/atomic"

	"rcu/pkg/dlist"
	"rcu/pkg/event"
	"rcu/pkg/pqueue"
	"rcu/pkg/rwlock"
)

// ErrClosed is returned by DeferDestroy on a Reclaimer after Close.
var ErrClosed = errors.New("reclaim: reclaimer is closed")

// ErrDeferFailed is returned by DeferDestroy when the deferred queue is at
// its configured capacity. The caller's policy decides whether to retry
// or let the object leak, mirroring the source contract's allocation-
// failure behavior (see Options.DeferredCapacity).
var ErrDeferFailed = errors.New("reclaim: deferred queue at capacity")

// Options configures a Reclaimer.
type Options struct {
	// DeferredCapacity bounds how many deferred destructors may be queued
	// at once. Zero (the default, see DefaultOptions) means unbounded.
	DeferredCapacity int
}

// DefaultOptions returns the default Reclaimer configuration: an
// unbounded deferred queue.
func DefaultOptions() Options {
	return Options{DeferredCapacity: 0}
}

// ReaderHandle is an opaque token returned by Enter. It records the
// generation the reader pinned and must be passed back to Leave on the
// same Reclaimer that produced it.
type ReaderHandle struct {
	generation uint64
	rc         *refCount
}

// Generation returns the generation this handle pinned.
func (h ReaderHandle) Generation() uint64 {
	return h.generation
}

// valid reports whether h was ever produced by Enter.
func (h ReaderHandle) valid() bool {
	return h.rc != nil
}

// refCount is a (generation, count) record: the number of active readers
// currently pinned at that generation. Exactly one exists per live
// generation in the registry at any time.
type refCount struct {
	dlist.Elem
	generation uint64
	count      atomic.Int64
}

// deferredEntry is "free this object once generation has fully retired".
type deferredEntry struct {
	generation uint64
	destroy    func()
}

// Reclaimer holds the generation counter, the registry of per-generation
// reference counts, and the deferred-destructor queue.
type Reclaimer struct {
	currentGeneration atomic.Uint64

	// registryLock guards registry: readers take it for reading to locate
	// RefCount(g); Synchronize takes it for writing to insert a new
	// generation's record and to remove a retired one.
	registryLock *rwlock.RWLock
	registry     dlist.List

	lastRetiredGeneration uint64 // mutated only by the serial Synchronize path

	// deferred is mutated only under the writer's own serialization:
	// DeferDestroy and Synchronize must not be called concurrently with
	// each other or with themselves (single-writer model, spec.md §5).
	deferred    *pqueue.Queue[deferredEntry]
	deferredCap int

	wake *event.Event // Synchronize sleeps on this while draining a generation

	closed atomic.Bool
}

// New returns a Reclaimer with the default options.
func New() *Reclaimer {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions returns a Reclaimer configured by opts.
func NewWithOptions(opts Options) *Reclaimer {
	r := &Reclaimer{
		registryLock: rwlock.New(),
		deferredCap:  opts.DeferredCapacity,
		wake:         event.New(),
	}
	r.registry.Init()
	r.deferred = pqueue.New(func(a, b deferredEntry) bool {
		return a.generation < b.generation
	})

	// Generation onboarding invariant (i): RefCount(0) exists before any
	// reader can call Enter.
	rc0 := &refCount{generation: 0}
	rc0.Elem.Owner = rc0
	r.registry.PushBack(&rc0.Elem)

	return r
}

// Close marks the reclaimer closed. Subsequent DeferDestroy calls return
// ErrClosed; Enter is unaffected; Close does not stop new readers from
// pinning generations, only new destructors from being queued. Close does
// not wait for outstanding readers or run any pending destructors —
// callers that need that should call Synchronize first. Close is
// idempotent.
func (r *Reclaimer) Close() error {
	r.closed.Store(true)
	return nil
}

// GetGeneration returns the current generation.
func (r *Reclaimer) GetGeneration() uint64 {
	return r.currentGeneration.Load()
}

// findRefCount locates RefCount(g) in the registry. By the onboarding
// invariant a record for whatever current_generation holds always exists,
// so a miss here means a caller violated the single-reclaimer-per-handle
// contract (spec.md §7, "precondition violation").
func (r *Reclaimer) findRefCount(g uint64) *refCount {
	e := r.registry.Find(func(e *dlist.Elem) bool {
		return e.Owner.(*refCount).generation == g
	})
	if e == nil {
		panic("reclaim: no RefCount record for the requested generation")
	}
	return e.Owner.(*refCount)
}

// IncGeneration advances the current generation and returns the value it
// held immediately before advancing (the "previous" generation).
//
// Per spec.md §4.5 "generation onboarding", the new generation's RefCount
// record is inserted into the registry, under the registry's write lock,
// before current_generation is published — so that the moment a reader
// can observe the new generation, a record for it is guaranteed to exist.
func (r *Reclaimer) IncGeneration() uint64 {
	prev := r.currentGeneration.Load()
	next := prev + 1

	rc := &refCount{generation: next}
	rc.Elem.Owner = rc

	r.registryLock.Lock()
	r.registry.PushBack(&rc.Elem)
	r.registryLock.Unlock()

	r.currentGeneration.Store(next)
	return prev
}

// Enter pins the current generation and returns a handle identifying it.
// The handle must be passed to Leave exactly once.
//
// The generation is read under registryLock, not before it: CollectThrough
// only removes RefCount(g) under the write lock, and only after observing
// rc.count == 0, which happens-after current_generation advanced past g.
// Reading the generation while holding the RLock therefore guarantees its
// RefCount record is still in the registry — reading it first would let a
// concurrent Synchronize retire and remove that very generation before
// this call could pin it.
func (r *Reclaimer) Enter() ReaderHandle {
	r.registryLock.RLock()
	g := r.currentGeneration.Load()
	rc := r.findRefCount(g)
	rc.count.Add(1)
	r.registryLock.RUnlock()

	return ReaderHandle{generation: g, rc: rc}
}

// Leave releases a pin acquired by Enter. Leaving an invalid (zero-value)
// handle is a no-op, per spec.md §7's defensive-contract treatment of
// disallowed null inputs.
func (r *Reclaimer) Leave(h ReaderHandle) {
	if !h.valid() {
		return
	}
	if h.rc.count.Add(-1) == 0 {
		r.wake.Post()
	}
}

// DeferDestroy registers destroy to run once the current generation has
// fully retired: once every reader that could have entered before this
// call returns has left. destroy is invoked at most once, by whichever
// goroutine's Synchronize/CollectThrough call retires that generation.
//
// DeferDestroy returns ErrDeferFailed if the reclaimer has a bounded
// deferred-queue capacity (Options.DeferredCapacity) and it is full, and
// ErrClosed if the reclaimer has been closed. destroy must not be nil.
func (r *Reclaimer) DeferDestroy(destroy func()) error {
	if destroy == nil {
		panic("reclaim: DeferDestroy called with a nil destructor")
	}
	if r.closed.Load() {
		return ErrClosed
	}
	if r.deferredCap > 0 && r.deferred.Len() >= r.deferredCap {
		return ErrDeferFailed
	}

	g := r.currentGeneration.Load()
	r.deferred.Push(deferredEntry{generation: g, destroy: destroy})
	return nil
}

// Synchronize advances the generation and blocks until every object
// deferred at or before the generation that was current before this call
// has been destroyed. It is equivalent to CollectThrough(IncGeneration()).
//
// The caller must hold whatever writer-level serialization is
// appropriate for the structure this Reclaimer protects, and must have
// already published its changes via release-ordered stores before
// calling Synchronize.
func (r *Reclaimer) Synchronize() {
	r.CollectThrough(r.IncGeneration())
}

// CollectThrough retires every generation up to and including through,
// running their deferred destructors and freeing their RefCount records.
// It blocks, for each generation in turn, until that generation's reader
// count reaches zero.
func (r *Reclaimer) CollectThrough(through uint64) {
	for r.lastRetiredGeneration <= through {
		g := r.lastRetiredGeneration
		rc := r.findRefCount(g)

		r.wake.WaitUntil(func() bool { return rc.count.Load() == 0 })

		for {
			entry, ok := r.deferred.PopIf(func(e deferredEntry) bool {
				return e.generation == g
			})
			if !ok {
				break
			}
			entry.destroy()
		}

		r.registryLock.Lock()
		r.registry.Remove(&rc.Elem)
		r.registryLock.Unlock()

		r.lastRetiredGeneration++
	}
}

// Stats summarizes a Reclaimer's state for tests and diagnostics.
type Stats struct {
	CurrentGeneration     uint64
	LastRetiredGeneration uint64
	LiveGenerations       int
	PendingDestructors    int
}

// Stats returns a snapshot of the reclaimer's state. Like PendingCount, it
// is meant for diagnostics from the writer goroutine or from a quiesced
// test, not for concurrent polling — the deferred queue it inspects is
// writer-private (spec.md §5).
func (r *Reclaimer) Stats() Stats {
	r.registryLock.RLock()
	n := 0
	for e := r.registry.Front(); e != nil; e = r.registry.Next(e) {
		n++
	}
	r.registryLock.RUnlock()

	return Stats{
		CurrentGeneration:     r.currentGeneration.Load(),
		LastRetiredGeneration: r.lastRetiredGeneration,
		LiveGenerations:       n,
		PendingDestructors:    r.deferred.Len(),
	}
}

// PendingCount returns the number of destructors still queued, across all
// generations. Writer-private, see Stats.
func (r *Reclaimer) PendingCount() int {
	return r.deferred.Len()
}
