// Package timestamp implements the Timestamp State (spec section 3 and
// 4.6): a monotonic 50-microsecond tick counter fed by 8-bit or 16-bit
// modular increments from the trace stream.
package timestamp

import "fmt"

// State tracks the target's free-running 50us timer as reconstructed from
// periodic LSB updates carried in the trace stream.
type State struct {
	Time50us uint64
	LastDiff uint64
}

// Update8 folds in an 8-bit LSB sample (spec section 4.6). The known
// limitation (spec section 9, an open question preserved as observed
// behavior): an 8-bit update loses whole multiples of 256 ticks if updates
// arrive less often than every 256 ticks.
func (s *State) Update8(u8 uint8) {
	diff := (uint64(u8) - (s.Time50us & 0xFF)) & 0xFF
	s.LastDiff = diff
	s.Time50us += diff
}

// Update16 folds in a 16-bit LSB sample (spec section 4.6). On the very
// first update, LastDiff is reset to 0 afterward so the first interval
// isn't reported as a spuriously large jump from a zero baseline.
func (s *State) Update16(u16 uint16) {
	diff := (uint64(u16) - (s.Time50us & 0xFFFF)) & 0xFFFF
	s.LastDiff = diff
	s.Time50us += diff
	if s.Time50us == diff {
		// Detects the very first update from a zero baseline: avoid
		// reporting a spuriously large initial interval.
		s.LastDiff = 0
	}
}

// FmtAbs renders the absolute timestamp as [ssssssss.uuuuuu].
func (s *State) FmtAbs() string {
	us := s.Time50us * 50
	return fmt.Sprintf("[%08d.%06d]", us/1_000_000, us%1_000_000)
}

// FmtDiff renders the last differential interval as [+uuuuuu] microseconds.
func (s *State) FmtDiff() string {
	return fmt.Sprintf("[+%06d]", s.LastDiff*50)
}
