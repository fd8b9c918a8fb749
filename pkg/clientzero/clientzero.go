package clientzero

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/graph"
	"github.com/iprivit/uhd/pkg/metrics"
)

// DeviceInfo reports the fixed identity fields a device's client-zero
// endpoint exposes: protocol version, device type, and the counts spec.md
// §4.7 names (transports, blocks, stream endpoints, edges).
type DeviceInfo struct {
	ProtoVer           uint32
	DeviceType         string
	NumTransports      int
	NumBlocks          int
	NumStreamEndpoints int
	NumEdges           int
}

// BlockEdge is one entry of the on-device adjacency list, addressed by
// block index rather than by node ID: (src_block_idx, src_port,
// dst_block_idx, dst_port), exactly as spec.md §4.7 specifies.
type BlockEdge struct {
	SrcBlockIdx int
	SrcPort     int
	DstBlockIdx int
	DstPort     int
}

// BlockStaticInfo is a block's unchanging register-exposed shape.
type BlockStaticInfo struct {
	NumInputPorts    int
	NumOutputPorts   int
	ItemWidth        int
	ChdrWidth        int
	MaxAsyncMessages int
}

// ClientZero is the device's always-present control endpoint: it reports
// identity and topology pulled from the in-memory graph (standing in for a
// real device's register-exposed adjacency), and drives per-port
// flush/reset and static-info queries over a RegisterLink. It is the only
// component in the core that touches device registers directly.
type ClientZero struct {
	g           *graph.Graph
	reg         *RegisterLink
	protoVer    uint32
	devType     string
	nTransports int
	metrics     *metrics.Registry
}

// New builds a ClientZero fronting g's topology and reg's register access.
// protoVer/devType/nTransports are static identity fields this endpoint
// reports verbatim; nTransports is not derivable from the graph since
// transports are a link-layer concept outside it. metricsReg may be nil to
// disable metrics.
func New(g *graph.Graph, reg *RegisterLink, protoVer uint32, devType string, nTransports int, metricsReg *metrics.Registry) *ClientZero {
	return &ClientZero{g: g, reg: reg, protoVer: protoVer, devType: devType, nTransports: nTransports, metrics: metricsReg}
}

func (c *ClientZero) record(op string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordClientZeroRequest(op, status)
}

// DeviceInfo reports protocol/device identity and topology counts.
func (c *ClientZero) DeviceInfo() DeviceInfo {
	defer c.record("device_info", nil)
	ids := c.g.NodeIDs()
	edges := c.g.Edges()
	streamEndpoints := 0
	for _, id := range ids {
		n, ok := c.g.Node(id)
		if !ok {
			continue
		}
		if n.NumInputPorts() == 0 || n.NumOutputPorts() == 0 {
			streamEndpoints++
		}
	}
	return DeviceInfo{
		ProtoVer:           c.protoVer,
		DeviceType:         c.devType,
		NumTransports:      c.nTransports,
		NumBlocks:          len(ids),
		NumStreamEndpoints: streamEndpoints,
		NumEdges:           len(edges),
	}
}

// AdjacencyList returns the on-device block adjacency list, translating the
// graph's node-ID edges into block indices via a stable (sorted) node-ID
// ordering, per spec.md §4.7.
func (c *ClientZero) AdjacencyList() []BlockEdge {
	defer c.record("adjacency_list", nil)
	ids := c.g.NodeIDs()
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	edges := c.g.Edges()
	out := make([]BlockEdge, 0, len(edges))
	for _, e := range edges {
		srcIdx, srcOK := index[e.SrcNode]
		dstIdx, dstOK := index[e.DstNode]
		if !srcOK || !dstOK {
			continue
		}
		out = append(out, BlockEdge{
			SrcBlockIdx: srcIdx,
			SrcPort:     e.SrcPort,
			DstBlockIdx: dstIdx,
			DstPort:     e.DstPort,
		})
	}
	return out
}

// FlushPort issues a register flush on blockInstance's port and polls
// flush_done until it reports complete or timeout elapses.
func (c *ClientZero) FlushPort(ctx context.Context, blockInstance string, timeout time.Duration) (err error) {
	defer func() { c.record("flush_port", err) }()
	if err = c.reg.writeReg(ctx, blockInstance, regFlush, 1, timeout); err != nil {
		return err
	}
	var done bool
	done, err = c.reg.pollReg(ctx, blockInstance, regFlushDone, timeout)
	if err != nil {
		return err
	}
	if !done {
		err = chdrerr.New("flush_port").On("block", blockInstance).
			Timeout(fmt.Errorf("flush_done did not assert within %s", timeout))
		return err
	}
	return nil
}

// ControlReset issues a control-plane reset on blockInstance.
func (c *ClientZero) ControlReset(ctx context.Context, blockInstance string, timeout time.Duration) error {
	err := c.reg.writeReg(ctx, blockInstance, regControlReset, 1, timeout)
	c.record("control_reset", err)
	return err
}

// ChdrReset issues a CHDR-plane reset on blockInstance.
func (c *ClientZero) ChdrReset(ctx context.Context, blockInstance string, timeout time.Duration) error {
	err := c.reg.writeReg(ctx, blockInstance, regChdrReset, 1, timeout)
	c.record("chdr_reset", err)
	return err
}

// StaticInfo reads one block's static register-exposed shape.
func (c *ClientZero) StaticInfo(ctx context.Context, blockInstance string, timeout time.Duration) (_ BlockStaticInfo, err error) {
	defer func() { c.record("static_info", err) }()
	var info BlockStaticInfo
	in, err := c.reg.readReg(ctx, blockInstance, regNumInputPorts, timeout)
	if err != nil {
		return info, err
	}
	out, err := c.reg.readReg(ctx, blockInstance, regNumOutputPorts, timeout)
	if err != nil {
		return info, err
	}
	iw, err := c.reg.readReg(ctx, blockInstance, regItemWidth, timeout)
	if err != nil {
		return info, err
	}
	cw, err := c.reg.readReg(ctx, blockInstance, regChdrWidth, timeout)
	if err != nil {
		return info, err
	}
	async, err := c.reg.readReg(ctx, blockInstance, regMaxAsyncMsgs, timeout)
	if err != nil {
		return info, err
	}
	return BlockStaticInfo{
		NumInputPorts:    int(in),
		NumOutputPorts:   int(out),
		ItemWidth:        int(iw),
		ChdrWidth:        int(cw),
		MaxAsyncMessages: int(async),
	}, nil
}

// AllStaticInfo queries StaticInfo for every named block concurrently: the
// per-port register reads are independent and non-interacting (unlike the
// receive streamer's cross-channel alignment, no block's query depends on
// another's result), so they are dispatched through errgroup, which also
// returns the first error. Each register exchange still takes the
// RegisterLink's round-trip lock, so the exchanges on the wire run one at a
// time and the total time is about the sum of the single queries.
func (c *ClientZero) AllStaticInfo(ctx context.Context, blockInstances []string, timeout time.Duration) (map[string]BlockStaticInfo, error) {
	results := make([]BlockStaticInfo, len(blockInstances))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range blockInstances {
		i, name := i, name
		g.Go(func() error {
			info, err := c.StaticInfo(ctx, name, timeout)
			if err != nil {
				return err
			}
			results[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]BlockStaticInfo, len(blockInstances))
	for i, name := range blockInstances {
		out[name] = results[i]
	}
	return out, nil
}
