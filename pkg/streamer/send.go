package streamer

import (
	"context"
	"errors"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/metrics"
	"github.com/iprivit/uhd/pkg/transport"
)

var errMaxPayloadTooSmall = errors.New("link max payload size too small to carry one sample")

// txChannel tracks one channel's link and its monotonic sequence counter.
type txChannel struct {
	link   transport.Link
	seqNum uint16
}

// TxStreamer is the multi-channel transmit data path (C6): splits samples
// into packets at the link's configured max payload size, assigns
// monotonically increasing sequence numbers per channel, stamps the first
// packet of a timed burst and marks the rest data_no_ts, and blocks on a
// CreditWindow before sending.
type TxStreamer struct {
	id     string
	codec  *chdr.Codec
	conv   *Converter
	credit *CreditWindow

	channels []*txChannel
	metrics  *metrics.Registry
}

// NewTxStreamer builds a transmit streamer over one Link per channel.
func NewTxStreamer(id string, codec *chdr.Codec, conv *Converter, links []transport.Link, credit *CreditWindow, reg *metrics.Registry) *TxStreamer {
	channels := make([]*txChannel, len(links))
	for i, l := range links {
		channels[i] = &txChannel{link: l}
	}
	return &TxStreamer{id: id, codec: codec, conv: conv, credit: credit, channels: channels, metrics: reg}
}

// NumChannels reports how many channels this streamer writes.
func (s *TxStreamer) NumChannels() int {
	return len(s.channels)
}

// Send packs buffs (one slice of samples per channel, all the same length)
// into CHDR data packets, fragmenting at the link's max payload size,
// stamping only the first packet of a burst with a timestamp when hasTime is
// true, and marking every following packet of the call data_no_ts. eob marks
// the final packet of the burst on every channel. Returns the number of
// samples sent per channel.
func (s *TxStreamer) Send(ctx context.Context, buffs [][]complex64, timeout time.Duration, hasTime bool, timeSpec uint64, eob bool) (int, error) {
	if len(buffs) != len(s.channels) {
		return 0, chdrerr.New("send").On("streamer", s.id).Value(errBuffChannelMismatch)
	}
	nsamps := len(buffs[0])
	bps := s.conv.WireBytesPerSample()

	maxPayload := s.channels[0].link.MaxPayloadSize()
	sampsPerPacket := maxPayload / bps
	if sampsPerPacket <= 0 {
		return 0, chdrerr.New("send").On("streamer", s.id).Fatal(errMaxPayloadTooSmall)
	}

	sent := 0
	for sent < nsamps {
		n := nsamps - sent
		if n > sampsPerPacket {
			n = sampsPerPacket
		}
		first := sent == 0
		last := sent+n >= nsamps

		wireBytes := n * bps
		if !s.credit.Reserve(ctx, wireBytes, timeout) {
			return sent, nil
		}

		for i, ch := range s.channels {
			wire := make([]byte, wireBytes)
			s.conv.FromCPU(buffs[i][sent:sent+n], wire)

			stampThis := hasTime && first
			h := chdr.Header{
				PacketType: chdr.PacketDataNoTS,
				EOB:        last && eob,
				SeqNum:     ch.seqNum,
			}
			payload := chdr.DataPayload{Samples: wire}
			if stampThis {
				h.PacketType = chdr.PacketDataWithTS
				payload.HasTime = true
				payload.Timestamp = timeSpec
			}

			buf, err := s.codec.Serialize(h, payload)
			if err != nil {
				return sent, err
			}
			if err := ch.link.Send(ctx, transport.Frame{Buf: buf}); err != nil {
				if s.metrics != nil {
					s.metrics.RecordUnderrun(s.id)
				}
				return sent, nil
			}
			ch.seqNum++
			if s.metrics != nil {
				s.metrics.RecordPacketSent(s.id, h.PacketType.String(), len(buf))
			}
		}
		sent += n
	}

	if s.metrics != nil {
		s.metrics.RecordSamples(s.id, sent)
		bytes, pkts := s.credit.Outstanding()
		s.metrics.SetCreditsOutstanding(s.id, int(bytes))
		_ = pkts
	}
	return sent, nil
}
