// pkg/reclaim/reclaim_test.go
package reclaim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnterLeaveRoundTrip(t *testing.T) {
	r := New()
	before := r.GetGeneration()

	h := r.Enter()
	if h.Generation() != before {
		t.Fatalf("Enter pinned generation %d, want %d", h.Generation(), before)
	}
	r.Leave(h)

	if r.GetGeneration() != before {
		t.Fatalf("generation changed across a read-only Enter/Leave: %d -> %d", before, r.GetGeneration())
	}
}

func TestIncGenerationMonotonic(t *testing.T) {
	r := New()
	a := r.IncGeneration()
	b := r.IncGeneration()
	if !(a < b) {
		t.Fatalf("successive IncGeneration calls not strictly monotonic: %d, %d", a, b)
	}
}

// Scenario 1 from spec.md §8: deferred reclamation under reader pressure.
func TestDeferredReclamationUnderReaderPressure(t *testing.T) {
	r := New()

	var destroyed atomic.Bool
	var leftAt, destroyedAt, syncReturnedAt time.Time
	var mu sync.Mutex

	h := r.Enter()
	readerDone := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		leftAt = time.Now()
		mu.Unlock()
		r.Leave(h)
		close(readerDone)
	}()

	if err := r.DeferDestroy(func() {
		destroyed.Store(true)
		mu.Lock()
		destroyedAt = time.Now()
		mu.Unlock()
	}); err != nil {
		t.Fatalf("DeferDestroy: %v", err)
	}

	r.Synchronize()
	mu.Lock()
	syncReturnedAt = time.Now()
	mu.Unlock()

	<-readerDone

	if !destroyed.Load() {
		t.Fatal("destructor was never invoked")
	}
	if destroyedAt.Before(leftAt) {
		t.Fatal("destructor ran before the reader's Leave")
	}
	if syncReturnedAt.Before(destroyedAt) {
		t.Fatal("Synchronize returned before the destructor ran")
	}
}

// Scenario 2 from spec.md §8: two readers, two generations.
func TestTwoReadersTwoGenerations(t *testing.T) {
	r := New()

	h1 := r.Enter() // pins gen 0

	var xFreed atomic.Bool
	if err := r.DeferDestroy(func() { xFreed.Store(true) }); err != nil {
		t.Fatalf("DeferDestroy: %v", err)
	}

	syncDone := make(chan struct{})
	go func() {
		r.Synchronize() // advances to gen 1, blocks on gen-0 readers
		close(syncDone)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-syncDone:
		t.Fatal("Synchronize returned while a gen-0 reader was still active")
	default:
	}

	h2 := r.Enter() // pins gen 1
	if h2.Generation() != h1.Generation()+1 {
		t.Fatalf("second reader pinned generation %d, want %d", h2.Generation(), h1.Generation()+1)
	}

	r.Leave(h1)
	<-syncDone

	if !xFreed.Load() {
		t.Fatal("object deferred at gen 0 was not freed after Synchronize returned")
	}

	r.Leave(h2) // should not trigger any destructor (none deferred at gen 1)
}

func TestDeferDestroyInvokedExactlyOnceAcrossGenerations(t *testing.T) {
	r := New()

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		i := i
		if err := r.DeferDestroy(func() { count.Add(1); _ = i }); err != nil {
			t.Fatalf("DeferDestroy: %v", err)
		}
		r.Synchronize()
	}

	if count.Load() != 5 {
		t.Fatalf("expected every deferred destructor to run exactly once, got %d runs", count.Load())
	}
}

func TestDeferDestroyCapacity(t *testing.T) {
	r := NewWithOptions(Options{DeferredCapacity: 1})

	if err := r.DeferDestroy(func() {}); err != nil {
		t.Fatalf("first DeferDestroy should succeed: %v", err)
	}
	if err := r.DeferDestroy(func() {}); err != ErrDeferFailed {
		t.Fatalf("second DeferDestroy should fail with ErrDeferFailed, got %v", err)
	}

	r.Synchronize() // drains the queue
	if err := r.DeferDestroy(func() {}); err != nil {
		t.Fatalf("DeferDestroy after Synchronize should succeed again: %v", err)
	}
}

func TestLeaveOfZeroValueHandleIsNoOp(t *testing.T) {
	r := New()
	var h ReaderHandle
	r.Leave(h) // must not panic
}

func TestClosedReclaimerRejectsDeferDestroy(t *testing.T) {
	r := New()
	r.Close()
	if err := r.DeferDestroy(func() {}); err != ErrClosed {
		t.Fatalf("DeferDestroy after Close = %v, want ErrClosed", err)
	}
}

// Stresses the window between reading current_generation and pinning its
// RefCount: a writer continuously retiring generations must never let an
// Enter racing against Synchronize observe a generation whose record has
// already been removed.
func TestEnterRaceAgainstContinuousSynchronize(t *testing.T) {
	r := New()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	const readers = 8
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := r.Enter()
				r.Leave(h)
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		r.Synchronize()
	}

	close(stop)
	wg.Wait()
}

func TestConcurrentReadersAndWriterNoRaceOnCount(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	const readers = 8
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := r.Enter()
				r.Leave(h)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if err := r.DeferDestroy(func() {}); err != nil {
			t.Fatalf("DeferDestroy: %v", err)
		}
		r.Synchronize()
	}

	close(stop)
	wg.Wait()
}
