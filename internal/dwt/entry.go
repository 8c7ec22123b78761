package dwt

import "math/bits"

// Entry is the desired configuration of one DWT comparator (spec section
// 3: DWT Entry). Function 0 (all flags false) means disabled.
type Entry struct {
	Addr      uint32
	Size      uint32 // bytes, must be a power of two; 0 defaults to 4
	GetPC     bool
	GetData   bool
	GetOffset bool
}

// Function bit positions within DWT_FUNCTIONn.
const (
	funcBitPC     = 0
	funcBitData   = 1
	funcBitOffset = 5
)

// normalizedSize returns e.Size, defaulting a zero size to 4 (spec section
// 4.3: "Size must be a power of two ≥1; if zero, default to 4").
func (e Entry) normalizedSize() uint32 {
	if e.Size == 0 {
		return 4
	}
	return e.Size
}

// IsPowerOfTwo reports whether e's normalized size is a valid power of two.
func (e Entry) IsPowerOfTwo() bool {
	s := e.normalizedSize()
	return s != 0 && s&(s-1) == 0
}

// Mask returns the DWT_MASKn value: floor(log2(size)).
func (e Entry) Mask() uint32 {
	s := e.normalizedSize()
	return uint32(bits.Len32(s) - 1)
}

// Function returns the DWT_FUNCTIONn flags word (spec section 4.3):
// bit0 = GetPC, bit1 = GetData, bit5 = GetOffset. Both GetPC and GetOffset
// may be set simultaneously (spec section 3: documented hardware
// limitation where the result is offset-only behavior), the encoding still
// reflects the literal flag combination.
func (e Entry) Function() uint32 {
	var f uint32
	if e.GetPC {
		f |= 1 << funcBitPC
	}
	if e.GetData {
		f |= 1 << funcBitData
	}
	if e.GetOffset {
		f |= 1 << funcBitOffset
	}
	return f
}

// Disabled reports whether this entry has function 0 (all flags false).
func (e Entry) Disabled() bool {
	return !e.GetPC && !e.GetData && !e.GetOffset
}
