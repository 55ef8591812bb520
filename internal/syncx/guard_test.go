package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardWrite(t *testing.T) {
	type snapshot struct {
		state string
		turns int
	}
	g := NewGuard(snapshot{state: "idle"})

	g.Write(func(s *snapshot) {
		s.state = "listening"
		s.turns++
	})

	if got := g.Get(); got.state != "listening" || got.turns != 1 {
		t.Errorf("Get() after Write = %+v", got)
	}
}

func TestGuardConcurrent(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}

func TestBroadcasterDelivers(t *testing.T) {
	b := NewBroadcaster[string]()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish("listening")

	if got := <-a; got != "listening" {
		t.Errorf("subscriber a got %q, want listening", got)
	}
	if got := <-c; got != "listening" {
		t.Errorf("subscriber c got %q, want listening", got)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Error("cancelled channel should be closed")
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

func TestBroadcasterSlowSubscriberKeepsNewest(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, cancel := b.Subscribe(2)
	defer cancel()

	for i := 1; i <= 10; i++ {
		b.Publish(i)
	}

	first, second := <-ch, <-ch
	if first != 9 || second != 10 {
		t.Errorf("received %d,%d, want 9,10", first, second)
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, cancel := b.Subscribe(1)
	b.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
	b.Publish(1)
}
