package timestamp

import "testing"

func TestUpdate8Basic(t *testing.T) {
	var s State
	s.Update8(10)
	if s.Time50us != 10 {
		t.Fatalf("Time50us = %d, want 10", s.Time50us)
	}
	s.Update8(15)
	if s.Time50us != 15 || s.LastDiff != 5 {
		t.Fatalf("Time50us=%d LastDiff=%d, want 15,5", s.Time50us, s.LastDiff)
	}
}

func TestUpdate8Wraparound(t *testing.T) {
	s := State{Time50us: 250}
	s.Update8(4) // wraps past 256: diff = (4 - 250) mod 256 = 10
	if s.LastDiff != 10 {
		t.Fatalf("LastDiff = %d, want 10", s.LastDiff)
	}
	if s.Time50us != 260 {
		t.Fatalf("Time50us = %d, want 260", s.Time50us)
	}
}

func TestUpdate16FirstUpdateSuppressesLastDiff(t *testing.T) {
	var s State
	s.Update16(500)
	if s.Time50us != 500 {
		t.Fatalf("Time50us = %d, want 500", s.Time50us)
	}
	if s.LastDiff != 0 {
		t.Fatalf("LastDiff after first update = %d, want 0", s.LastDiff)
	}
}

func TestUpdate16SubsequentReportsDiff(t *testing.T) {
	var s State
	s.Update16(500)
	s.Update16(700)
	if s.Time50us != 700 {
		t.Fatalf("Time50us = %d, want 700", s.Time50us)
	}
	if s.LastDiff != 200 {
		t.Fatalf("LastDiff = %d, want 200", s.LastDiff)
	}
}

func TestUpdate16Wraparound(t *testing.T) {
	s := State{Time50us: 65530}
	s.Update16(10) // diff = (10 - 65530) mod 65536 = 16
	if s.LastDiff != 16 {
		t.Fatalf("LastDiff = %d, want 16", s.LastDiff)
	}
	if s.Time50us != 65546 {
		t.Fatalf("Time50us = %d, want 65546", s.Time50us)
	}
}

func TestFmtAbsAndFmtDiff(t *testing.T) {
	s := State{Time50us: 20, LastDiff: 3} // 20*50=1000us, 3*50=150us
	if got, want := s.FmtAbs(), "[00000000.001000]"; got != want {
		t.Errorf("FmtAbs() = %q, want %q", got, want)
	}
	if got, want := s.FmtDiff(), "[+000150]"; got != want {
		t.Errorf("FmtDiff() = %q, want %q", got, want)
	}
}

func TestTimeNeverDecreasesAcrossModularWraps(t *testing.T) {
	var s State
	last := s.Time50us
	for _, u := range []uint8{100, 200, 50, 250, 10, 5} {
		s.Update8(u)
		if s.Time50us < last {
			t.Fatalf("Time50us decreased: %d -> %d", last, s.Time50us)
		}
		last = s.Time50us
	}
}
