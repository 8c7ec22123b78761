package tpiu

import "testing"

// streamBuilder constructs TPIU/ITM wire frames byte-by-byte, grounded on
// the OpenCSD ItmStreamBuilder pattern (other_examples' itm_test.go):
// small composable AddX helpers instead of hand-written byte literals.
type streamBuilder struct {
	data []byte
}

func (b *streamBuilder) bytes() []byte { return b.data }

func (b *streamBuilder) add(v ...byte) { b.data = append(b.data, v...) }

func (b *streamBuilder) overflow() { b.add(0x70) }

func (b *streamBuilder) sync() { b.add(0x00) }

// sit appends a software-source header plus its little-endian payload.
// size is the wire size-select bits (1, 2, or 3 meaning 1/2/4 bytes).
func (b *streamBuilder) sit(chanID uint8, size uint8, val uint32) {
	hdr := (chanID&0x1F)<<3 | (size & 0x03)
	b.add(hdr)
	b.addVal(val, size)
}

func (b *streamBuilder) hsp(disc uint8, size uint8, val uint32) {
	hdr := (disc&0x1F)<<3 | 0x04 | (size & 0x03)
	b.add(hdr)
	b.addVal(val, size)
}

func (b *streamBuilder) addVal(val uint32, size uint8) {
	n := payloadSize(size)
	for i := 0; i < n; i++ {
		b.add(byte(val >> (8 * i)))
	}
}

func feedAll(p *Parser, data []byte) {
	for _, b := range data {
		p.Feed(b)
	}
}

func TestPayloadSize(t *testing.T) {
	cases := map[byte]int{1: 1, 2: 2, 3: 4}
	for bits, want := range cases {
		if got := payloadSize(bits); got != want {
			t.Errorf("payloadSize(%d) = %d, want %d", bits, got, want)
		}
	}
}

func TestParserOverflowAndSync(t *testing.T) {
	var overflows, syncs int
	p := New(Handlers{
		OnOverflow: func() { overflows++ },
		OnSync:     func() { syncs++ },
	})

	var b streamBuilder
	b.overflow()
	b.sync()
	feedAll(p, b.bytes())

	if overflows != 1 || syncs != 1 {
		t.Fatalf("got overflows=%d syncs=%d, want 1,1", overflows, syncs)
	}
	if p.State() != "WaitingForHeader" {
		t.Fatalf("state after Overflow/Sync = %s, want WaitingForHeader", p.State())
	}
}

func TestParserTextChannel(t *testing.T) {
	var got []SIT
	p := New(Handlers{OnSIT: func(s SIT) { got = append(got, s) }})

	var b streamBuilder
	b.sit(0, 1, 'H')
	b.sit(0, 1, 'i')
	b.sit(0, 1, '\n')
	feedAll(p, b.bytes())

	if len(got) != 3 {
		t.Fatalf("got %d SIT events, want 3", len(got))
	}
	for i, want := range []byte{'H', 'i', '\n'} {
		if got[i].Chan != 0 || len(got[i].Data) != 1 || got[i].Data[0] != want {
			t.Errorf("event %d = %+v, want chan 0 byte %q", i, got[i], want)
		}
	}
	if p.State() != "WaitingForHeader" {
		t.Fatalf("state after complete SIT = %s, want WaitingForHeader", p.State())
	}
}

func TestParserMidFrameState(t *testing.T) {
	p := New(Handlers{})
	var b streamBuilder
	b.sit(3, 2, 0xABCD)
	data := b.bytes()

	p.Feed(data[0])
	if p.State() != "SoftwareBody" {
		t.Fatalf("state after header byte = %s, want SoftwareBody", p.State())
	}
	p.Feed(data[1])
	if p.State() != "SoftwareBody" {
		t.Fatalf("state after 1 of 2 payload bytes still pending = %s, want SoftwareBody", p.State())
	}
}

func TestParserHSPDiscriminatorMapping(t *testing.T) {
	var got []HSP
	p := New(Handlers{OnHSP: func(h HSP) { got = append(got, h) }})

	var b streamBuilder
	b.hsp(0, 1, 5)            // EventCount
	b.hsp(1, 2, 0x1234)       // ExceptionTrace
	b.hsp(2, 3, 0x08000100)   // PCSample
	b.hsp(9, 3, 0x08000200)   // disc 9: type=1 (PC/Offset), subtype bit=1 -> Offset, DWT index 0
	b.hsp(8, 3, 0x08000300)   // disc 8: type=1, subtype bit=0 -> PC, DWT index 0
	b.hsp(18, 3, 0xCAFEBABE)  // disc 18=0b10010: type=2 (Data), bit0=0 -> Read, index=1
	b.hsp(19, 3, 0xDEADBEEF)  // disc 19=0b10011: type=2, bit0=1 -> Write, index=1
	feedAll(p, b.bytes())

	if len(got) != 7 {
		t.Fatalf("got %d HSP events, want 7", len(got))
	}
	if got[0].Subtype != HSPEventCount || got[0].Value != 5 {
		t.Errorf("event 0 = %+v, want EventCount value 5", got[0])
	}
	if got[1].Subtype != HSPExceptionTrace || got[1].Value != 0x1234 {
		t.Errorf("event 1 = %+v, want ExceptionTrace value 0x1234", got[1])
	}
	if got[2].Subtype != HSPPCSample || got[2].Value != 0x08000100 {
		t.Errorf("event 2 = %+v, want PCSample", got[2])
	}
	if got[3].Subtype != HSPDataTraceOffset || got[3].DWTIndex != 0 {
		t.Errorf("event 3 = %+v, want DataTraceOffset index 0", got[3])
	}
	if got[4].Subtype != HSPDataTracePC || got[4].DWTIndex != 0 {
		t.Errorf("event 4 = %+v, want DataTracePC index 0", got[4])
	}
	if got[5].Subtype != HSPDataTraceData || got[5].IsWrite || got[5].DWTIndex != 1 {
		t.Errorf("event 5 = %+v, want DataTraceData read index 1", got[5])
	}
	if got[6].Subtype != HSPDataTraceData || !got[6].IsWrite || got[6].DWTIndex != 1 {
		t.Errorf("event 6 = %+v, want DataTraceData write index 1", got[6])
	}
}

func TestParserUnknownDiscriminator(t *testing.T) {
	var got []HSP
	p := New(Handlers{OnHSP: func(h HSP) { got = append(got, h) }})

	var b streamBuilder
	b.hsp(30, 1, 0x42) // 30 is outside 0,1,2,8..23
	feedAll(p, b.bytes())

	if len(got) != 1 || got[0].Subtype != HSPUnknown {
		t.Fatalf("got %+v, want single Unknown event", got)
	}
}

func TestParserDuffByte(t *testing.T) {
	var duff []byte
	p := New(Handlers{OnDuffByte: func(b byte) { duff = append(duff, b) }})

	// byte&0x03==0 and byte&0x04==0, not 0x70, not the all-zero sync
	// pattern (byte&0x7F==0): e.g. 0x08 (0b00001000).
	p.Feed(0x08)

	if len(duff) != 1 || duff[0] != 0x08 {
		t.Fatalf("got duff=%v, want [0x08]", duff)
	}
	if p.State() != "WaitingForHeader" {
		t.Fatalf("state after DuffByte = %s, want WaitingForHeader", p.State())
	}
}

func TestParserByteOrderingPreserved(t *testing.T) {
	var got []SIT
	p := New(Handlers{OnSIT: func(s SIT) { got = append(got, s) }})

	var b streamBuilder
	b.sit(1, 1, 'A')
	b.sit(2, 1, 'B')
	b.sit(1, 1, 'C')
	feedAll(p, b.bytes())

	wantChans := []int{1, 2, 1}
	wantBytes := []byte{'A', 'B', 'C'}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i := range got {
		if got[i].Chan != wantChans[i] || got[i].Data[0] != wantBytes[i] {
			t.Errorf("event %d = %+v, want chan %d byte %q", i, got[i], wantChans[i], wantBytes[i])
		}
	}
}
