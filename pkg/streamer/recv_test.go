package streamer

import (
	"context"
	"testing"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/transport"
)

func testCodec(t *testing.T) *chdr.Codec {
	t.Helper()
	c, err := chdr.NewCodec(chdr.BusWidth64, chdr.LittleEndian)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func testConverter(t *testing.T) *Converter {
	t.Helper()
	c, err := NewConverter(WireSC16, CPUFC32, 1.0)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	return c
}

func buildDataPacket(t *testing.T, codec *chdr.Codec, conv *Converter, seq uint16, ts uint64, hasTime bool, samples []complex64, eob bool) []byte {
	t.Helper()
	wire := make([]byte, len(samples)*conv.WireBytesPerSample())
	conv.FromCPU(samples, wire)

	pt := chdr.PacketDataNoTS
	if hasTime {
		pt = chdr.PacketDataWithTS
	}
	h := chdr.Header{PacketType: pt, SeqNum: seq, EOB: eob}
	buf, err := codec.Serialize(h, chdr.DataPayload{Timestamp: ts, HasTime: hasTime, Samples: wire})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return buf
}

func TestRxStreamer_RecvAlignedPacketsAcrossTwoChannels(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	l0 := transport.NewTestLink(4, 1500)
	l1 := transport.NewTestLink(4, 1500)

	samples0 := []complex64{1, 2, 3, 4}
	samples1 := []complex64{5, 6, 7, 8}
	l0.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, samples0, false))
	l1.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, samples1, false))

	rx := NewRxStreamer("rx0", codec, conv, []transport.Link{l0, l1}, 1, 1, nil, nil)
	buffs := [][]complex64{make([]complex64, 4), make([]complex64, 4)}

	n, md, err := rx.Recv(context.Background(), buffs, 4, 50*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 4 {
		t.Fatalf("Recv() = %d samples, want 4", n)
	}
	if md.ErrorCode != ErrorNone {
		t.Fatalf("ErrorCode = %v, want ErrorNone", md.ErrorCode)
	}
	if !md.HasTimeSpec || md.TimeSpec != 1000 {
		t.Errorf("metadata time = (%v, %d), want (true, 1000)", md.HasTimeSpec, md.TimeSpec)
	}
	if buffs[0][0] != 1 || buffs[1][0] != 5 {
		t.Errorf("unexpected converted samples: %v / %v", buffs[0], buffs[1])
	}
	if rx.State() != StateStreaming {
		t.Errorf("state = %v, want StateStreaming", rx.State())
	}
}

func TestRxStreamer_RecvTimesOutWhenAChannelIsEmpty(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	l0 := transport.NewTestLink(4, 1500)
	l1 := transport.NewTestLink(4, 1500)
	l0.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, []complex64{1, 2}, false))
	// l1 has nothing queued.

	rx := NewRxStreamer("rx1", codec, conv, []transport.Link{l0, l1}, 1, 1, nil, nil)
	buffs := [][]complex64{make([]complex64, 2), make([]complex64, 2)}

	n, md, err := rx.Recv(context.Background(), buffs, 2, 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 0 || md.ErrorCode != ErrorTimeout {
		t.Errorf("Recv() = (%d, %v), want (0, ErrorTimeout)", n, md.ErrorCode)
	}
}

func TestRxStreamer_EndOfBurstReturnsToIdle(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	l0 := transport.NewTestLink(4, 1500)
	l0.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, []complex64{1, 2, 3, 4}, true))

	rx := NewRxStreamer("rx3", codec, conv, []transport.Link{l0}, 1, 1, nil, nil)
	buffs := [][]complex64{make([]complex64, 4)}

	n, md, err := rx.Recv(context.Background(), buffs, 4, 20*time.Millisecond, false)
	if err != nil || n != 4 {
		t.Fatalf("Recv: n=%d err=%v", n, err)
	}
	if !md.EOB {
		t.Fatalf("expected EOB metadata on a packet with the header flag set")
	}
	if rx.State() != StateIdle {
		t.Errorf("state after EOB = %v, want StateIdle", rx.State())
	}
}

func TestRxStreamer_HandleStreamCommandStopTransitionsToIdle(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	l0 := transport.NewTestLink(4, 1500)
	l0.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, []complex64{1, 2}, false))

	rx := NewRxStreamer("rx4", codec, conv, []transport.Link{l0}, 1, 1, nil, nil)
	buffs := [][]complex64{make([]complex64, 2)}

	if _, _, err := rx.Recv(context.Background(), buffs, 2, 20*time.Millisecond, false); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if rx.State() != StateStreaming {
		t.Fatalf("state after recv = %v, want StateStreaming", rx.State())
	}

	rx.HandleStreamCommand(StreamCommand{Mode: ModeStopContinuous})
	if rx.State() != StateIdle {
		t.Errorf("state after stop stream_cmd = %v, want StateIdle", rx.State())
	}
}

func TestRxStreamer_DetectsSequenceSkipAsOverrun(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	l0 := transport.NewTestLink(4, 1500)
	l1 := transport.NewTestLink(4, 1500)

	l0.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, []complex64{1, 2, 3, 4}, false))
	l1.PushFrame(buildDataPacket(t, codec, conv, 0, 1000, true, []complex64{1, 2, 3, 4}, false))
	// channel 0's next packet skips a sequence number.
	l0.PushFrame(buildDataPacket(t, codec, conv, 2, 2000, true, []complex64{5, 6, 7, 8}, false))
	l1.PushFrame(buildDataPacket(t, codec, conv, 1, 2000, true, []complex64{5, 6, 7, 8}, false))

	handlerCalls := 0
	rx := NewRxStreamer("rx2", codec, conv, []transport.Link{l0, l1}, 1, 1, func() { handlerCalls++ }, nil)
	buffs := [][]complex64{make([]complex64, 4), make([]complex64, 4)}

	n, md, err := rx.Recv(context.Background(), buffs, 4, 20*time.Millisecond, false)
	if err != nil || n != 4 {
		t.Fatalf("first Recv: n=%d err=%v", n, err)
	}

	n, md, err = rx.Recv(context.Background(), buffs, 4, 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("second Recv: %v", err)
	}
	if n != 0 || md.ErrorCode != ErrorOverflow {
		t.Fatalf("second Recv() = (%d, %v), want (0, ErrorOverflow)", n, md.ErrorCode)
	}
	if !md.HasTimeSpec || md.TimeSpec != 1004 {
		t.Errorf("inferred timestamp = (%v, %d), want (true, 1004)", md.HasTimeSpec, md.TimeSpec)
	}
	if rx.State() != StateOverrunPending {
		t.Errorf("state = %v, want StateOverrunPending", rx.State())
	}
	if handlerCalls != 0 {
		t.Errorf("handler called %d times before drain, want 0", handlerCalls)
	}

	// The third call drains the stale channel 1 packet, invokes the handler
	// exactly once, and then has no further data queued.
	n, _, err = rx.Recv(context.Background(), buffs, 4, 5*time.Millisecond, false)
	if err != nil {
		t.Fatalf("third Recv: %v", err)
	}
	if handlerCalls != 1 {
		t.Errorf("handler called %d times, want exactly 1", handlerCalls)
	}
	if rx.State() != StateIdle {
		t.Errorf("state after overrun handling = %v, want StateIdle", rx.State())
	}
	_ = n
}
