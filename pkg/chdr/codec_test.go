package chdr

import (
	"reflect"
	"testing"

	"github.com/iprivit/uhd/pkg/chdrerr"
)

func TestNewCodec_RejectsUnsupportedWidth(t *testing.T) {
	if _, err := NewCodec(BusWidth(100), LittleEndian); err == nil {
		t.Fatal("expected error for unsupported bus width")
	} else if !chdrerr.Is(err, chdrerr.KindUnsupported) {
		t.Errorf("expected KindUnsupported, got %v", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	widths := []BusWidth{BusWidth64, BusWidth128, BusWidth256, BusWidth512}
	endians := []Endianness{LittleEndian, BigEndian}

	for _, w := range widths {
		for _, e := range endians {
			c, err := NewCodec(w, e)
			if err != nil {
				t.Fatalf("NewCodec(%d, %v): %v", w, e, err)
			}

			h := Header{
				VC:         5,
				EOB:        true,
				EOV:        false,
				PacketType: PacketDataNoTS,
				NumMeta:    2,
				SeqNum:     1234,
				DstEPID:    0xBEEF,
			}
			payload := DataPayload{Samples: []byte{1, 2, 3, 4, 5, 6, 7, 8}}

			buf, err := c.Serialize(h, payload)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}

			pkt, err := c.Parse(buf)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			got := pkt.Header
			got.Length = 0
			want := h
			want.Length = 0
			if got != want {
				t.Errorf("width=%d endian=%v: header round-trip mismatch: got %+v, want %+v", w, e, got, want)
			}

			dp, ok := pkt.Payload.(DataPayload)
			if !ok {
				t.Fatalf("expected DataPayload, got %T", pkt.Payload)
			}
			if !reflect.DeepEqual(dp.Samples, payload.Samples) {
				t.Errorf("samples = %v, want %v", dp.Samples, payload.Samples)
			}
		}
	}
}

func TestMixedEndiannessRoundTrip(t *testing.T) {
	enc, err := NewCodec(BusWidth256, BigEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	dec, err := NewCodec(BusWidth256, LittleEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	h := Header{PacketType: PacketDataNoTS, SeqNum: 7, DstEPID: 0x1234}
	payload := DataPayload{Samples: []byte{0xAA, 0xBB, 0xCC}}

	buf, err := enc.Serialize(h, payload)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	swapped := ByteSwap(buf, enc.WordBytes())
	pkt, err := dec.Parse(swapped)
	if err != nil {
		t.Fatalf("Parse after byte-swap: %v", err)
	}
	if pkt.Header.SeqNum != h.SeqNum || pkt.Header.DstEPID != h.DstEPID {
		t.Errorf("header after byte-swap = %+v, want seq=%d dst_epid=%x", pkt.Header, h.SeqNum, h.DstEPID)
	}
}

func TestDataWithTimestamp(t *testing.T) {
	for _, w := range []BusWidth{BusWidth64, BusWidth128, BusWidth256, BusWidth512} {
		c, err := NewCodec(w, LittleEndian)
		if err != nil {
			t.Fatalf("NewCodec: %v", err)
		}
		h := Header{PacketType: PacketDataWithTS, SeqNum: 1}
		payload := DataPayload{HasTime: true, Timestamp: 0x1122334455667788, Samples: []byte{9, 9, 9, 9}}

		buf, err := c.Serialize(h, payload)
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		pkt, err := c.Parse(buf)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		dp := pkt.Payload.(DataPayload)
		if dp.Timestamp != payload.Timestamp {
			t.Errorf("width=%d: timestamp = %x, want %x", w, dp.Timestamp, payload.Timestamp)
		}
		if !reflect.DeepEqual(dp.Samples, payload.Samples) {
			t.Errorf("width=%d: samples = %v, want %v", w, dp.Samples, payload.Samples)
		}
	}
}

// TestCtrlRoundTrip exercises the control round-trip scenario: serialize at
// W=256 big-endian, parse at W=256 big-endian; then byte-swap and parse as
// little-endian, and expect the same payload both times.
func TestCtrlRoundTrip(t *testing.T) {
	ctrl := CtrlPayload{
		DstPort:    0x321,
		SrcPort:    0x0AA,
		IsAck:      true,
		SrcEPID:    0xBEEF,
		Opcode:     OpWrite,
		Status:     StatusOkay,
		HasTime:    true,
		Timestamp:  0x1234567890ABCDEF,
		DataVtr:    []uint32{0xDEADBEEF},
		ByteEnable: 0xF,
	}
	h := Header{PacketType: PacketCtrl, SeqNum: 1}

	big, err := NewCodec(BusWidth256, BigEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	buf, err := big.Serialize(h, ctrl)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	pkt, err := big.Parse(buf)
	if err != nil {
		t.Fatalf("Parse (big-endian): %v", err)
	}
	assertCtrlEqual(t, pkt.Payload, ctrl)

	little, err := NewCodec(BusWidth256, LittleEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	swapped := ByteSwap(buf, big.WordBytes())
	pkt2, err := little.Parse(swapped)
	if err != nil {
		t.Fatalf("Parse (after byte-swap, little-endian): %v", err)
	}
	assertCtrlEqual(t, pkt2.Payload, ctrl)
}

func assertCtrlEqual(t *testing.T, got Payload, want CtrlPayload) {
	t.Helper()
	gc, ok := got.(CtrlPayload)
	if !ok {
		t.Fatalf("expected CtrlPayload, got %T", got)
	}
	if gc.DstPort != want.DstPort || gc.SrcPort != want.SrcPort || gc.IsAck != want.IsAck ||
		gc.SrcEPID != want.SrcEPID || gc.Opcode != want.Opcode || gc.Status != want.Status ||
		gc.HasTime != want.HasTime || gc.Timestamp != want.Timestamp || gc.ByteEnable != want.ByteEnable ||
		!reflect.DeepEqual(gc.DataVtr, want.DataVtr) {
		t.Errorf("ctrl payload mismatch: got %+v, want %+v", gc, want)
	}
}

func TestStrsRoundTrip(t *testing.T) {
	c, err := NewCodec(BusWidth128, LittleEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	strs := StrsPayload{
		SrcEPID:        0x10,
		Status:         StrsOkay,
		CapacityBytes:  1 << 30,
		CapacityPkts:   4096,
		XferCountBytes: 1 << 40,
		XferCountPkts:  500,
		BuffInfo:       7,
		StatusInfo:     0xABCDEF,
	}
	h := Header{PacketType: PacketStrs}

	buf, err := c.Serialize(h, strs)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	pkt, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := pkt.Payload.(StrsPayload)
	if got != strs {
		t.Errorf("strs round trip: got %+v, want %+v", got, strs)
	}
}

func TestStrcRoundTrip(t *testing.T) {
	c, err := NewCodec(BusWidth64, BigEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	strc := StrcPayload{
		SrcEPID:  0x22,
		Opcode:   StrcResync,
		OpData:   0x3,
		NumPkts:  10,
		NumBytes: 8192,
	}
	h := Header{PacketType: PacketStrc}

	buf, err := c.Serialize(h, strc)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	pkt, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := pkt.Payload.(StrcPayload)
	if got != strc {
		t.Errorf("strc round trip: got %+v, want %+v", got, strc)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	c, err := NewCodec(BusWidth64, LittleEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	t.Run("too short", func(t *testing.T) {
		if _, err := c.Parse([]byte{1, 2, 3}); err == nil {
			t.Fatal("expected malformed error")
		} else if !chdrerr.Is(err, chdrerr.KindMalformed) {
			t.Errorf("expected KindMalformed, got %v", err)
		}
	})

	t.Run("length exceeds buffer", func(t *testing.T) {
		h := Header{PacketType: PacketDataNoTS, Length: 9000}
		buf := make([]byte, 8)
		c.putWord(buf, packHeader(h))
		if _, err := c.Parse(buf); err == nil {
			t.Fatal("expected malformed error")
		} else if !chdrerr.Is(err, chdrerr.KindMalformed) {
			t.Errorf("expected KindMalformed, got %v", err)
		}
	})

	t.Run("reserved packet type", func(t *testing.T) {
		h := Header{PacketType: PacketType(7), Length: 8}
		buf := make([]byte, 8)
		c.putWord(buf, packHeader(h))
		if _, err := c.Parse(buf); err == nil {
			t.Fatal("expected malformed error")
		}
	})
}
