package streamer

import (
	"context"
	"testing"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/transport"
)

func TestTxStreamer_FragmentsAndStampsFirstPacketOnly(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	credit := NewCreditWindow()
	credit.Replenish(1<<20, 1<<10)

	l0 := transport.NewTestLink(8, 8) // 8-byte payload cap -> 2 samples/packet
	l1 := transport.NewTestLink(8, 8)

	tx := NewTxStreamer("tx0", codec, conv, []transport.Link{l0, l1}, credit, nil)

	buffs := [][]complex64{
		{1, 2, 3, 4, 5, 6},
		{7, 8, 9, 10, 11, 12},
	}
	n, err := tx.Send(context.Background(), buffs, time.Second, true, 500, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 6 {
		t.Fatalf("Send() = %d samples, want 6", n)
	}

	for chIdx, l := range []*transport.TestLink{l0, l1} {
		var seqs []uint16
		var sawTimedFirst, sawFinalEOB bool
		samplesSeen := 0
		for {
			f, err := l.Recv(withShortTimeout(t))
			if err != nil {
				break
			}
			pkt, err := codec.Parse(f.Buf)
			if err != nil {
				t.Fatalf("channel %d: Parse: %v", chIdx, err)
			}
			dp, ok := pkt.Payload.(chdr.DataPayload)
			if !ok {
				t.Fatalf("channel %d: payload is %T, not DataPayload", chIdx, pkt.Payload)
			}
			seqs = append(seqs, pkt.Header.SeqNum)
			samplesSeen += len(dp.Samples) / conv.WireBytesPerSample()
			if len(seqs) == 1 {
				sawTimedFirst = dp.HasTime && dp.Timestamp == 500
			} else if dp.HasTime {
				t.Errorf("channel %d: packet %d unexpectedly carries a timestamp", chIdx, len(seqs)-1)
			}
			if pkt.Header.EOB {
				sawFinalEOB = true
			}
		}
		if samplesSeen != 6 {
			t.Errorf("channel %d: saw %d samples total, want 6", chIdx, samplesSeen)
		}
		for i, s := range seqs {
			if int(s) != i {
				t.Errorf("channel %d: seq[%d] = %d, want %d", chIdx, i, s, i)
			}
		}
		if !sawTimedFirst {
			t.Errorf("channel %d: first packet was not timestamped with 500", chIdx)
		}
		if !sawFinalEOB {
			t.Errorf("channel %d: no packet carried EOB", chIdx)
		}
	}
}

func TestTxStreamer_SendBlocksWithoutCredit(t *testing.T) {
	codec := testCodec(t)
	conv := testConverter(t)
	credit := NewCreditWindow() // no credit ever replenished

	l0 := transport.NewTestLink(8, 64)
	tx := NewTxStreamer("tx1", codec, conv, []transport.Link{l0}, credit, nil)

	n, err := tx.Send(context.Background(), [][]complex64{{1, 2}}, 20*time.Millisecond, false, 0, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 0 {
		t.Errorf("Send() = %d, want 0 (no credit ever granted)", n)
	}
}

func withShortTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}
