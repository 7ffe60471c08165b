package signal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
)

func TestEmitInvokesHandlersInOrder(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	s := New[int](d)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	s.Connect(func(v int) {
		mu.Lock()
		got = append(got, v*10)
		mu.Unlock()
	})
	s.Connect(func(v int) {
		mu.Lock()
		got = append(got, v*100)
		mu.Unlock()
		close(done)
	})

	s.Emit(7)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 70 || got[1] != 700 {
		t.Errorf("handler order = %v, want [70 700]", got)
	}
}

func TestEmitWithoutHandlers(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	s := New[string](d)
	s.Emit("nobody listens")
}

func TestEmissionOrderPreserved(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	s := New[int](d)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(5)
	s.Connect(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		wg.Done()
	})

	for i := 0; i < 5; i++ {
		s.Emit(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("emissions out of order: %v", got)
		}
	}
}

func TestLateHandlerMissesEarlierEmission(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	s := New[int](d)
	s.Emit(1)

	var called atomic.Bool
	s.Connect(func(int) { called.Store(true) })

	time.Sleep(100 * time.Millisecond)
	if called.Load() {
		t.Error("handler connected after Emit observed the emission")
	}
}
