// Package blocks implements concrete graph nodes for on-device processing
// blocks (spec.md's "Block" glossary entry) on top of pkg/node's generic
// property/resolver/action machinery.
package blocks

import (
	"math"

	"github.com/iprivit/uhd/pkg/logging"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/property"
	"github.com/iprivit/uhd/pkg/streamer"
)

// MaxDecim is the largest decimation factor a DDC accepts: decim must be 1
// or an even integer no greater than this.
const MaxDecim = 512

const (
	decimID         = "decim"
	requestedRateID = "requested_rate"
	sampRateID      = "samp_rate"
)

// NewDDC builds a decimating downconverter block: one input port, one
// output port, a "decim" property, samp_rate properties mirrored across
// both edges, and a resolver that keeps decim and the output rate
// consistent with whatever rate arrives on the input edge and whatever rate
// is requested downstream (via the "requested_rate" property — a block has
// no way to react to a rate set on a *different* node, since forward-edge
// propagation only ever copies OUTPUT_EDGE values downstream, never back
// upstream, so a downstream rate request is made directly on the block that
// owns the decimation, not on the consumer of its output).
//
// It also installs a stream_cmd action handler implementing the transform
// hook from spec.md §4.4: num_samps scales by decim crossing the block in
// either direction. log may be nil; when set, it receives a warning
// whenever a requested rate forces decim away from the plain rounded ratio.
func NewDDC(id string, initialDecim int64, log logging.Logger) *node.Node {
	n := node.New(id, 1, 1)

	decim := property.New(property.UserKey(decimID), property.TypeInt64, property.ReadWrite)
	decim.Set(property.Int64Value(coerceDecim(float64(initialDecim))))
	n.RegisterProperty(decim)

	requested := property.New(property.UserKey(requestedRateID), property.TypeFloat64, property.ReadWrite)
	requested.Set(property.Float64Value(0))
	n.RegisterProperty(requested)

	rateIn := property.New(property.EdgeKey(sampRateID, property.SourceInputEdge, 0), property.TypeFloat64, property.ReadWrite)
	n.RegisterProperty(rateIn)

	rateOut := property.New(property.EdgeKey(sampRateID, property.SourceOutputEdge, 0), property.TypeFloat64, property.ReadWrite)
	n.RegisterProperty(rateOut)

	n.AddResolver(
		[]property.Key{rateIn.Key, requested.Key, decim.Key},
		[]property.Key{decim.Key, rateOut.Key},
		func(acc node.Accessor) error {
			return resolveDecimation(acc, log, id, rateIn.Key, requested.Key, decim.Key, rateOut.Key)
		},
	)

	n.RegisterActionHandler(streamer.StreamCommandKey, func(acc node.Accessor, incoming node.EdgeSide, action node.Action) error {
		cmd, ok := action.Payload.(streamer.StreamCommand)
		if !ok {
			return nil
		}
		dv, err := acc.Get(decim.Key)
		if err != nil {
			return err
		}
		factor, err := dv.AsInt64()
		if err != nil || factor < 1 {
			factor = 1
		}
		switch incoming.Dir {
		case node.OutputPort:
			cmd.NumSamps *= uint64(factor)
		case node.InputPort:
			cmd.NumSamps /= uint64(factor)
		}
		return acc.PostAction(incoming.Port, incoming.Dir.Invert(), streamer.NewStreamCommandAction(cmd))
	})

	return n
}

func resolveDecimation(acc node.Accessor, log logging.Logger, id string, rateInKey, requestedKey, decimKey, rateOutKey property.Key) error {
	rinV, err := acc.Get(rateInKey)
	if err != nil {
		return err
	}
	rin, err := rinV.AsFloat64()
	if err != nil || rin == 0 {
		return nil // no upstream rate has arrived yet
	}

	reqV, err := acc.Get(requestedKey)
	if err != nil {
		return err
	}
	req, _ := reqV.AsFloat64()

	var d int64
	if req > 0 {
		raw := rin / req
		d = coerceDecim(raw)
		if log != nil && float64(d) != math.Round(raw) {
			log.Warn("ddc coerced decimation ratio to satisfy the 1-or-even constraint",
				logging.NodeID(id),
				logging.Float64("requested_rate", req),
				logging.Float64("raw_ratio", raw),
				logging.Int64("decim", d),
			)
		}
	} else {
		dv, err := acc.Get(decimKey)
		if err != nil {
			return err
		}
		d, _ = dv.AsInt64()
	}

	if err := acc.Set(decimKey, property.Int64Value(d)); err != nil {
		return err
	}
	return acc.Set(rateOutKey, property.Float64Value(rin/float64(d)))
}

// coerceDecim maps a raw (possibly fractional or odd) decimation ratio onto
// a value the decimation chain can realize: 1, or an even integer up to
// MaxDecim. A ratio that rounds to an odd number greater than 1 can only be
// realized by pairing the CIC stage with two mandatory halfband
// decimate-by-2 stages, so it is multiplied by 4 (7 becomes 28) rather than
// rounded to the next even number.
func coerceDecim(raw float64) int64 {
	d := int64(math.Round(raw))
	if d <= 1 {
		return 1
	}
	if d%2 != 0 {
		d *= 4
	}
	if d > MaxDecim {
		d = MaxDecim
	}
	return d
}
