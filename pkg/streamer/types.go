// Package streamer implements the multi-channel receive and transmit data
// paths: time-aligned reading with overrun detection (C5), and flow
// controlled, fragmented writing with burst timestamping (C6).
package streamer

import "github.com/iprivit/uhd/pkg/node"

// ErrorCode is the per-call status a Recv/Send reports through Metadata,
// never as a returned error — data-plane errors are surfaced through
// metadata, not exceptions, per the error handling design.
type ErrorCode uint8

const (
	ErrorNone ErrorCode = iota
	ErrorTimeout
	ErrorOverflow
	ErrorBadPacket
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorTimeout:
		return "timeout"
	case ErrorOverflow:
		return "overflow"
	case ErrorBadPacket:
		return "bad_packet"
	default:
		return "unknown"
	}
}

// Metadata carries the out-of-band information a recv/send call reports
// alongside its sample count.
type Metadata struct {
	HasTimeSpec    bool
	TimeSpec       uint64 // device tick count
	EOB            bool
	ErrorCode      ErrorCode
	MoreFragments  bool
	FragmentOffset int
}

// State is the receive streamer's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateOverrunPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateOverrunPending:
		return "overrun_pending"
	default:
		return "unknown"
	}
}

var allStates = []string{StateIdle.String(), StateStreaming.String(), StateOverrunPending.String()}

// StreamMode is the canonical stream-command's mode field.
type StreamMode uint8

const (
	ModeStartContinuous StreamMode = iota
	ModeStopContinuous
	ModeNumSampsAndDone
	ModeNumSampsAndMore
)

// StreamCommandKey is the action Key a stream-command action is posted and
// routed under.
const StreamCommandKey = "stream_cmd"

// StreamCommand is the stream-command action payload spec.md names: a
// request to start, stop, or bound a finite acquisition.
type StreamCommand struct {
	Mode      StreamMode
	NumSamps  uint64
	StreamNow bool
	TimeSpec  uint64
}

// NewStreamCommandAction wraps a StreamCommand as a routable node.Action.
func NewStreamCommandAction(cmd StreamCommand) node.Action {
	return node.Action{Key: StreamCommandKey, Payload: cmd}
}
