package clock

import (
	"sync"
	"testing"
	"time"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if got := c.Advance(90 * time.Second); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Advance() = %v", got)
	}

	later := start.Add(48 * time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Fatalf("Now() after Set = %v, want %v", got, later)
	}
}

func TestFake_ConcurrentAdvance(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := NewFake(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	if got := c.Now(); !got.Equal(start.Add(50 * time.Second)) {
		t.Fatalf("Now() = %v, want +50s", got)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Fatal("OrReal(nil) should return Real")
	}
	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := OrReal(Func(func() time.Time { return fixed }))
	if !c.Now().Equal(fixed) {
		t.Fatal("OrReal should keep the provided clock")
	}
}
