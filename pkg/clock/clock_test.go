package clock

import "testing"

func TestTickMonotonicallyIncreases(t *testing.T) {
	c := New(0)
	prev := c.Current().Counter
	for i := 0; i < 100; i++ {
		s := c.Tick()
		if s.Counter <= prev {
			t.Fatalf("Tick %d: got %d, want > %d", i, s.Counter, prev)
		}
		prev = s.Counter
	}
}

func TestTickStartsFromZero(t *testing.T) {
	c := New(3)
	if s := c.Current(); s.Counter != 0 || s.Owner != 3 {
		t.Fatalf("new clock: got %+v, want counter 0 owner 3", s)
	}
	if s := c.Tick(); s.Counter != 1 {
		t.Fatalf("first Tick: got %d, want 1", s.Counter)
	}
}

func TestObserveMaxPlusOne(t *testing.T) {
	c := New(0)
	for i := 0; i < 5; i++ {
		c.Tick()
	}

	// Observe a higher counter: should set to max(5, 10)+1 = 11.
	if s := c.Observe(10); s.Counter != 11 {
		t.Fatalf("Observe(10) from 5: got %d, want 11", s.Counter)
	}

	// Observe a lower counter: should set to max(11, 3)+1 = 12.
	if s := c.Observe(3); s.Counter != 12 {
		t.Fatalf("Observe(3) from 11: got %d, want 12", s.Counter)
	}
}

func TestObserveEqualCounter(t *testing.T) {
	c := New(0)
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	if s := c.Observe(10); s.Counter != 11 {
		t.Fatalf("Observe(10) from 10: got %d, want 11", s.Counter)
	}
}

func TestObserveNeverDecreases(t *testing.T) {
	c := New(0)
	prev := uint64(0)
	for _, remote := range []uint64{7, 0, 3, 7, 100, 2} {
		s := c.Observe(remote)
		if s.Counter <= prev {
			t.Fatalf("Observe(%d): got %d, want > %d", remote, s.Counter, prev)
		}
		prev = s.Counter
	}
}

func TestObservePreservesOwner(t *testing.T) {
	c := New(2)
	if s := c.Observe(99); s.Owner != 2 {
		t.Fatalf("Observe changed owner: got %d, want 2", s.Owner)
	}
}

func TestLess_DifferentCounters(t *testing.T) {
	if !Less(Stamp{1, 1}, Stamp{2, 0}) {
		t.Fatal("expected (1,1) < (2,0)")
	}
	if Less(Stamp{2, 0}, Stamp{1, 1}) {
		t.Fatal("expected (2,0) NOT < (1,1)")
	}
}

func TestLess_SameCounter_TieBreakByOwner(t *testing.T) {
	if !Less(Stamp{5, 0}, Stamp{5, 1}) {
		t.Fatal("expected (5,0) < (5,1)")
	}
	if Less(Stamp{5, 1}, Stamp{5, 0}) {
		t.Fatal("expected (5,1) NOT < (5,0)")
	}
}

func TestLess_Equal(t *testing.T) {
	if Less(Stamp{5, 2}, Stamp{5, 2}) {
		t.Fatal("expected (5,2) NOT < (5,2) — strict less")
	}
}

func TestLess_TotalOverDistinctStamps(t *testing.T) {
	// Any two distinct stamps must be ordered one way, never both, never
	// neither.
	stamps := []Stamp{{1, 0}, {1, 1}, {2, 0}, {2, 2}, {3, 1}}
	for i, a := range stamps {
		for j, b := range stamps {
			if i == j {
				continue
			}
			ab, ba := Less(a, b), Less(b, a)
			if ab == ba {
				t.Fatalf("stamps %+v and %+v: Less(a,b)=%v Less(b,a)=%v", a, b, ab, ba)
			}
		}
	}
}

func TestLess_Transitivity(t *testing.T) {
	a, b, c := Stamp{1, 2}, Stamp{2, 1}, Stamp{2, 2}
	if !Less(a, b) || !Less(b, c) || !Less(a, c) {
		t.Fatal("transitivity violated")
	}
}
