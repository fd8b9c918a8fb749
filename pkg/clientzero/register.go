// Package clientzero implements the device's synchronous register-interface
// endpoint (C7): protocol/device identity, the on-device block adjacency
// list, per-port flush/reset, and per-port static block info. This is the
// only component in the core that talks to device registers directly —
// everything else in the graph runtime is framework-level.
package clientzero

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/transport"
)

// Register addresses exposed by every block's client-zero-visible register
// file. These are this module's own allocation, not a value taken from the
// wire spec, since spec.md leaves the register layout to the implementer.
const (
	regFlush           uint16 = 0x00
	regFlushDone       uint16 = 0x04
	regControlReset    uint16 = 0x08
	regChdrReset       uint16 = 0x0C
	regNumInputPorts   uint16 = 0x10
	regNumOutputPorts  uint16 = 0x14
	regItemWidth       uint16 = 0x18
	regChdrWidth       uint16 = 0x1C
	regMaxAsyncMsgs    uint16 = 0x20
)

// Endpoint identifies a control-plane address: a 16-bit endpoint ID plus a
// 10-bit port number within that endpoint, per spec.md §6.
type Endpoint struct {
	EPID uint16
	Port uint16
}

// RegisterLink issues control-plane register reads/writes/polls to one
// device over a Link, encoding and decoding them as CHDR ctrl packets. It
// holds the mapping table from (device_id, block_instance) to Endpoint that
// spec.md §6 names as the core's control-plane addressing table.
type RegisterLink struct {
	link  transport.Link
	codec *chdr.Codec

	endpoints map[string]Endpoint
	selfEPID  uint16

	// rtMu serializes request/response round trips. The control plane has
	// no sequence-matching demux: a reply is simply whatever Recv returns
	// next, so two round trips in flight at once on the same Link could
	// hand one caller another caller's response. AllStaticInfo's per-block
	// fan-out relies on this to stay correct while still dispatching
	// concurrently through errgroup.
	rtMu sync.Mutex
	seq  uint8
}

// NewRegisterLink builds a RegisterLink over link, using codec to frame ctrl
// packets and selfEPID as this host's own endpoint ID (carried as src_epid).
func NewRegisterLink(link transport.Link, codec *chdr.Codec, selfEPID uint16) *RegisterLink {
	return &RegisterLink{
		link:      link,
		codec:     codec,
		endpoints: make(map[string]Endpoint),
		selfEPID:  selfEPID,
	}
}

// Bind records the (endpoint, port) a block instance is addressed at.
func (r *RegisterLink) Bind(blockInstance string, ep Endpoint) {
	r.endpoints[blockInstance] = ep
}

// endpointFor looks up a block instance's control-plane address.
func (r *RegisterLink) endpointFor(blockInstance string) (Endpoint, error) {
	ep, ok := r.endpoints[blockInstance]
	if !ok {
		return Endpoint{}, chdrerr.New("register_access").On("block", blockInstance).
			Lookup(fmt.Errorf("no endpoint bound for block instance"))
	}
	return ep, nil
}

func (r *RegisterLink) nextSeq() uint8 {
	r.rtMu.Lock()
	defer r.rtMu.Unlock()
	s := r.seq
	r.seq++
	return s
}

// writeReg sends a register write and waits for the device's ack.
func (r *RegisterLink) writeReg(ctx context.Context, blockInstance string, addr uint16, data uint32, timeout time.Duration) error {
	ep, err := r.endpointFor(blockInstance)
	if err != nil {
		return err
	}
	req := chdr.CtrlPayload{
		DstPort: ep.Port,
		SrcEPID: r.selfEPID,
		Addr:    addr,
		Opcode:  chdr.OpWrite,
		DataVtr: []uint32{data},
		Seq:     r.nextSeq(),
	}
	resp, err := r.roundTrip(ctx, ep, req, timeout)
	if err != nil {
		return err
	}
	if resp.Status != chdr.StatusOkay {
		return chdrerr.New("write_reg").On("block", blockInstance).
			Fatal(fmt.Errorf("device returned ctrl status %d", resp.Status))
	}
	return nil
}

// readReg sends a register read and returns the device's reported value.
func (r *RegisterLink) readReg(ctx context.Context, blockInstance string, addr uint16, timeout time.Duration) (uint32, error) {
	ep, err := r.endpointFor(blockInstance)
	if err != nil {
		return 0, err
	}
	req := chdr.CtrlPayload{
		DstPort: ep.Port,
		SrcEPID: r.selfEPID,
		Addr:    addr,
		Opcode:  chdr.OpRead,
		Seq:     r.nextSeq(),
	}
	resp, err := r.roundTrip(ctx, ep, req, timeout)
	if err != nil {
		return 0, err
	}
	if resp.Status != chdr.StatusOkay {
		return 0, chdrerr.New("read_reg").On("block", blockInstance).
			Fatal(fmt.Errorf("device returned ctrl status %d", resp.Status))
	}
	if len(resp.DataVtr) == 0 {
		return 0, chdrerr.New("read_reg").On("block", blockInstance).
			Malformed(fmt.Errorf("ctrl ack carried no data"))
	}
	return resp.DataVtr[0], nil
}

// pollReg repeats a register read (opcode OpPoll) until the value is
// non-zero or timeout elapses.
func (r *RegisterLink) pollReg(ctx context.Context, blockInstance string, addr uint16, timeout time.Duration) (bool, error) {
	ep, err := r.endpointFor(blockInstance)
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	for {
		req := chdr.CtrlPayload{
			DstPort: ep.Port,
			SrcEPID: r.selfEPID,
			Addr:    addr,
			Opcode:  chdr.OpPoll,
			Seq:     r.nextSeq(),
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		resp, err := r.roundTrip(ctx, ep, req, remaining)
		if err != nil {
			return false, err
		}
		if len(resp.DataVtr) > 0 && resp.DataVtr[0] != 0 {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// roundTrip serializes req onto the wire, sends it, and parses the device's
// reply. It holds rtMu for the duration of one request/response exchange so
// concurrent callers (AllStaticInfo's per-block fan-out) never cross-read
// each other's replies off the shared Link.
func (r *RegisterLink) roundTrip(ctx context.Context, ep Endpoint, req chdr.CtrlPayload, timeout time.Duration) (chdr.CtrlPayload, error) {
	r.rtMu.Lock()
	defer r.rtMu.Unlock()

	h := chdr.Header{PacketType: chdr.PacketCtrl, DstEPID: ep.EPID}
	buf, err := r.codec.Serialize(h, req)
	if err != nil {
		return chdr.CtrlPayload{}, err
	}

	r.link.SetSendDeadline(timeout)
	if err := r.link.Send(ctx, transport.Frame{Buf: buf}); err != nil {
		return chdr.CtrlPayload{}, err
	}

	r.link.SetRecvDeadline(timeout)
	frame, err := r.link.Recv(ctx)
	if err != nil {
		return chdr.CtrlPayload{}, err
	}
	defer r.link.ReleaseRecvBuff(frame)

	pkt, err := r.codec.Parse(frame.Buf)
	if err != nil {
		return chdr.CtrlPayload{}, err
	}
	resp, ok := pkt.Payload.(chdr.CtrlPayload)
	if !ok {
		return chdr.CtrlPayload{}, chdrerr.New("register_access").On("block", "").
			Malformed(fmt.Errorf("reply packet was not a ctrl payload"))
	}
	return resp, nil
}
