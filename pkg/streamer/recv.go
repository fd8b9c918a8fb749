package streamer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/metrics"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/transport"
)

var errBuffChannelMismatch = errors.New("number of buffers does not match number of channels")

// OverrunHandler is invoked once per overrun episode, typically to issue a
// stream-command action that restarts the upstream radios.
type OverrunHandler func()

// rxChannel tracks one channel's link and the bookkeeping needed to detect
// overruns and carry a packet's unconsumed samples across recv calls.
type rxChannel struct {
	link transport.Link

	pending     chdr.Packet
	havePending bool
	consumed    int // samples already delivered from the pending packet

	haveSeq bool
	lastSeq uint16

	lastTS       uint64
	lastNumSamps int
}

// RxStreamer is the multi-channel, time-aligned receive data path (C5).
type RxStreamer struct {
	id    string
	codec *chdr.Codec
	conv  *Converter

	ticksPerSample float64 // tick_rate / samp_rate, for inferred overrun timestamps

	channels []*rxChannel

	mu             sync.Mutex
	overrunPending bool

	state   atomic.Int32
	handler OverrunHandler
	metrics *metrics.Registry

	poster func(node.Action) error
}

// SetActionPoster wires the function this streamer uses to post a
// stream-command action into the graph — typically the source block's
// node.PostAction bound to the edge the streamer is attached to.
func (s *RxStreamer) SetActionPoster(poster func(node.Action) error) {
	s.poster = poster
}

// IssueStreamCommand posts cmd through this streamer's configured poster. It
// is a no-op returning nil if no poster has been wired, since not every
// caller drives the source through the action system.
func (s *RxStreamer) IssueStreamCommand(cmd StreamCommand) error {
	if s.poster == nil {
		return nil
	}
	return s.poster(NewStreamCommandAction(cmd))
}

// HandleStreamCommand applies a received stream-command's effect on this
// streamer's lifecycle state. Wire it into the source node's "stream_cmd"
// action handler so a STOP_CONTINUOUS command (or end of a one-shot burst,
// handled separately in recvOnce) drives the IDLE transition the same way a
// start command drives STREAMING.
func (s *RxStreamer) HandleStreamCommand(cmd StreamCommand) {
	switch cmd.Mode {
	case ModeStopContinuous:
		s.setState(StateIdle)
	case ModeStartContinuous, ModeNumSampsAndDone, ModeNumSampsAndMore:
		s.setState(StateStreaming)
	}
}

// NewRxStreamer builds a receive streamer over one Link per channel. tickRate
// and sampRate are both in their respective per-second units and are used
// only to infer the timestamp of a packet lost to an overrun.
func NewRxStreamer(id string, codec *chdr.Codec, conv *Converter, links []transport.Link, tickRate, sampRate float64, handler OverrunHandler, reg *metrics.Registry) *RxStreamer {
	channels := make([]*rxChannel, len(links))
	for i, l := range links {
		channels[i] = &rxChannel{link: l}
	}
	ticksPerSample := 0.0
	if sampRate != 0 {
		ticksPerSample = tickRate / sampRate
	}
	s := &RxStreamer{
		id:             id,
		codec:          codec,
		conv:           conv,
		ticksPerSample: ticksPerSample,
		channels:       channels,
		handler:        handler,
		metrics:        reg,
	}
	s.setState(StateIdle)
	return s
}

func (s *RxStreamer) setState(st State) {
	s.state.Store(int32(st))
	if s.metrics != nil {
		s.metrics.SetStreamerState(s.id, st.String(), allStates)
	}
}

// State reports the streamer's current lifecycle state.
func (s *RxStreamer) State() State {
	return State(s.state.Load())
}

// NumChannels reports how many aligned channels this streamer reads.
func (s *RxStreamer) NumChannels() int {
	return len(s.channels)
}

// Recv fills one buffer per channel with up to nsampsPerBuff converted
// samples, returning the number of samples written per channel (the same
// count for every channel, since channels are always delivered aligned) and
// metadata describing timing, end-of-burst, fragmentation, and errors.
//
// onePacket limits this call to draining at most one already-pending
// fragment (or fetching exactly one new aligned packet set) rather than
// looping to fill buffs completely.
func (s *RxStreamer) Recv(ctx context.Context, buffs [][]complex64, nsampsPerBuff int, timeout time.Duration, onePacket bool) (int, Metadata, error) {
	if len(buffs) != len(s.channels) {
		return 0, Metadata{}, chdrerr.New("recv").On("streamer", s.id).Value(errBuffChannelMismatch)
	}

	s.mu.Lock()
	pending := s.overrunPending
	s.mu.Unlock()
	if pending {
		s.drainAndHandleOverrun(ctx, timeout)
	}

	total := 0
	for {
		n, md, err := s.recvOnce(ctx, buffs, total, nsampsPerBuff-total, timeout)
		if err != nil {
			return total, md, err
		}
		total += n
		if md.ErrorCode != ErrorNone {
			return total, md, nil
		}
		if onePacket || total >= nsampsPerBuff {
			return total, md, nil
		}
		if n == 0 {
			return total, md, nil
		}
	}
}

// recvOnce delivers samples from the current per-channel residual fragment,
// if any, or else fetches and aligns one new packet per channel.
func (s *RxStreamer) recvOnce(ctx context.Context, buffs [][]complex64, writeOffset, want int, timeout time.Duration) (int, Metadata, error) {
	needFetch := false
	for _, ch := range s.channels {
		if !ch.havePending {
			needFetch = true
			break
		}
	}

	var md Metadata
	if needFetch {
		fetchedMD, err := s.alignPackets(ctx, timeout)
		md = fetchedMD
		if err != nil {
			return 0, md, err
		}
		if md.ErrorCode != ErrorNone {
			return 0, md, nil
		}
		s.setState(StateStreaming)
	} else {
		md = s.pendingMetadata()
	}

	n := s.drainPending(buffs, writeOffset, want)
	md.MoreFragments = s.anyPending()
	if !md.MoreFragments && s.channels[0].pendingEOB() {
		md.EOB = true
	}
	if md.EOB {
		s.setState(StateIdle)
	}
	if s.metrics != nil {
		s.metrics.RecordSamples(s.id, n)
	}
	return n, md, nil
}

func (ch *rxChannel) pendingEOB() bool {
	return ch.havePending && ch.pending.Header.EOB
}

func (s *RxStreamer) anyPending() bool {
	for _, ch := range s.channels {
		if ch.havePending {
			return true
		}
	}
	return false
}

func (s *RxStreamer) pendingMetadata() Metadata {
	ch0 := s.channels[0]
	md := Metadata{ErrorCode: ErrorNone, FragmentOffset: ch0.consumed}
	if dp, ok := ch0.pending.Payload.(chdr.DataPayload); ok {
		md.HasTimeSpec = dp.HasTime
		md.TimeSpec = dp.Timestamp
	}
	return md
}

// drainPending copies up to want samples from each channel's pending packet
// into buffs starting at writeOffset, advancing each channel's consumed
// counter and clearing havePending once a packet is fully drained.
func (s *RxStreamer) drainPending(buffs [][]complex64, writeOffset, want int) int {
	if want <= 0 {
		return 0
	}
	delivered := want
	for _, ch := range s.channels {
		dp, ok := ch.pending.Payload.(chdr.DataPayload)
		if !ok || !ch.havePending {
			delivered = 0
			continue
		}
		bps := s.conv.WireBytesPerSample()
		total := len(dp.Samples) / bps
		remaining := total - ch.consumed
		if remaining < delivered {
			delivered = remaining
		}
	}
	if delivered <= 0 {
		return 0
	}

	for i, ch := range s.channels {
		dp := ch.pending.Payload.(chdr.DataPayload)
		bps := s.conv.WireBytesPerSample()
		start := ch.consumed * bps
		end := start + delivered*bps
		s.conv.ToCPU(dp.Samples[start:end], buffs[i][writeOffset:writeOffset+delivered])
		ch.consumed += delivered
		if ch.consumed*bps >= len(dp.Samples) {
			ch.havePending = false
			ch.consumed = 0
		}
	}
	return delivered
}

// alignPackets fetches and time-aligns one packet per channel, fetching
// fresh packets for any channel whose arrival is older than the others and
// re-checking alignment until every channel's packet carries the same
// timestamp (or an error terminates the attempt).
func (s *RxStreamer) alignPackets(ctx context.Context, timeout time.Duration) (Metadata, error) {
	got := make([]chdr.Packet, len(s.channels))
	have := make([]bool, len(s.channels))
	var refTS uint64
	haveRef := false

	for {
		allAligned := true
		for i, ch := range s.channels {
			if have[i] {
				continue
			}
			pkt, err := s.fetchFrame(ctx, ch, timeout)
			if err == transport.ErrTimeout {
				return Metadata{ErrorCode: ErrorTimeout}, nil
			}
			if err != nil {
				return Metadata{ErrorCode: ErrorBadPacket}, nil
			}

			if skipped, inferred := s.checkOverrun(ch, pkt); skipped {
				s.mu.Lock()
				s.overrunPending = true
				s.mu.Unlock()
				s.setState(StateOverrunPending)
				if s.metrics != nil {
					s.metrics.RecordOverrun(s.id)
				}
				return Metadata{
					ErrorCode:   ErrorOverflow,
					HasTimeSpec: true,
					TimeSpec:    inferred,
				}, nil
			}

			ts, hasTS := packetTimestamp(pkt)
			if haveRef && hasTS && ts < refTS {
				// older than the current reference: drop and refetch.
				allAligned = false
				continue
			}
			if hasTS && (!haveRef || ts > refTS) {
				refTS = ts
				haveRef = true
				// a newer reference invalidates any channel already
				// collected at the old (now stale) timestamp.
				for j := range got {
					if have[j] && j != i {
						jts, jhas := packetTimestamp(got[j])
						if jhas && jts < refTS {
							have[j] = false
							allAligned = false
						}
					}
				}
			}
			got[i] = pkt
			have[i] = true
			s.rememberSeq(ch, pkt)
		}

		if allAligned {
			done := true
			for _, ok := range have {
				if !ok {
					done = false
					break
				}
			}
			if done {
				break
			}
		}
	}

	for i, ch := range s.channels {
		ch.pending = got[i]
		ch.havePending = true
		ch.consumed = 0
	}

	eob := false
	for _, pkt := range got {
		eob = eob || pkt.Header.EOB
	}
	ts0, hasTS0 := packetTimestamp(got[0])
	return Metadata{ErrorCode: ErrorNone, EOB: eob, HasTimeSpec: hasTS0, TimeSpec: ts0}, nil
}

func packetTimestamp(pkt chdr.Packet) (uint64, bool) {
	dp, ok := pkt.Payload.(chdr.DataPayload)
	if !ok {
		return 0, false
	}
	return dp.Timestamp, dp.HasTime
}

func (s *RxStreamer) fetchFrame(ctx context.Context, ch *rxChannel, timeout time.Duration) (chdr.Packet, error) {
	// Timeout is enforced solely by the link's own deadline, not a second,
	// independently-racing context deadline: both firing around the same
	// instant would non-deterministically surface ctx.Err() in place of
	// transport.ErrTimeout. ctx is still honored for cancellation.
	ch.link.SetRecvDeadline(timeout)
	frame, err := ch.link.Recv(ctx)
	if err != nil {
		return chdr.Packet{}, err
	}
	defer ch.link.ReleaseRecvBuff(frame)

	pkt, err := s.codec.Parse(frame.Buf)
	if err != nil {
		return chdr.Packet{}, err
	}
	// Parse borrows frame.Buf for DataPayload.Samples; copy it out since the
	// buffer is released to the link's pool once this function returns.
	if dp, ok := pkt.Payload.(chdr.DataPayload); ok {
		dp.Samples = append([]byte(nil), dp.Samples...)
		pkt.Payload = dp
	}
	return pkt, nil
}

// checkOverrun reports whether pkt's sequence number skipped relative to
// ch's last-seen sequence number, and if so, the inferred timestamp of the
// packet(s) that were lost: previous packet time + previous packet's sample
// count / sample rate (expressed here in device ticks).
func (s *RxStreamer) checkOverrun(ch *rxChannel, pkt chdr.Packet) (bool, uint64) {
	skipped := ch.haveSeq && pkt.Header.SeqNum != ch.lastSeq+1
	if !skipped {
		return false, 0
	}
	inferred := ch.lastTS
	if s.ticksPerSample > 0 {
		inferred += uint64(float64(ch.lastNumSamps) * s.ticksPerSample)
	}
	return true, inferred
}

func (s *RxStreamer) rememberSeq(ch *rxChannel, pkt chdr.Packet) {
	ch.haveSeq = true
	ch.lastSeq = pkt.Header.SeqNum
	if dp, ok := pkt.Payload.(chdr.DataPayload); ok {
		ch.lastTS = dp.Timestamp
		ch.lastNumSamps = len(dp.Samples) / s.conv.WireBytesPerSample()
	}
}

// drainAndHandleOverrun flushes every channel's queue to empty (non-blocking)
// then invokes the overrun handler exactly once, clearing the pending flag.
func (s *RxStreamer) drainAndHandleOverrun(ctx context.Context, _ time.Duration) {
	for _, ch := range s.channels {
		for {
			ch.link.SetRecvDeadline(1 * time.Nanosecond)
			fctx, cancel := context.WithTimeout(ctx, 1*time.Millisecond)
			frame, err := ch.link.Recv(fctx)
			cancel()
			if err != nil {
				break
			}
			ch.link.ReleaseRecvBuff(frame)
		}
		ch.havePending = false
		ch.consumed = 0
		ch.haveSeq = false
	}

	if s.handler != nil {
		s.handler()
	}

	s.mu.Lock()
	s.overrunPending = false
	s.mu.Unlock()
	s.setState(StateIdle)
}
