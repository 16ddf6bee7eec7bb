package sync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestErrLatch_FirstErrorWins(t *testing.T) {
	var l ErrLatch
	first := errors.New("first")

	if l.Tripped() {
		t.Fatal("Tripped() should be false initially")
	}
	if !l.Trip(first) {
		t.Fatal("first Trip should report true")
	}
	if l.Trip(errors.New("second")) {
		t.Fatal("second Trip should report false")
	}
	if l.Err() != first {
		t.Errorf("Err() = %v, want %v", l.Err(), first)
	}
}

func TestErrLatch_DoneBeforeTrip(t *testing.T) {
	var l ErrLatch
	done := l.Done()

	select {
	case <-done:
		t.Fatal("Done closed before Trip")
	default:
	}

	l.Trip(errors.New("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Trip")
	}
}

func TestErrLatch_DoneAfterTrip(t *testing.T) {
	var l ErrLatch
	l.Trip(nil)

	select {
	case <-l.Done():
	default:
		t.Fatal("Done should be closed")
	}
	if !errors.Is(l.Err(), ErrTripped) {
		t.Errorf("Err() = %v, want ErrTripped", l.Err())
	}
}

func TestErrLatch_Concurrent(t *testing.T) {
	var l ErrLatch
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if l.Trip(errors.New("x")) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			<-l.Done()
		}()
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Errorf("wins = %d, want 1", n)
	}
}
