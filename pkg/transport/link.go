// Package transport defines the Link abstraction streamers and client-zero
// use to move CHDR frames, and the in-process/real-socket backends that
// implement it.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Recv/Send when the caller's deadline elapses
// before a frame is available or room opens in the send path.
var ErrTimeout = errors.New("transport: timeout")

// ErrClosed is returned by Recv/Send on a link that has been closed.
var ErrClosed = errors.New("transport: link closed")

// Frame is one raw CHDR frame moving across a link. Buf is owned by the
// Link until released via ReleaseRecvBuff.
type Frame struct {
	Buf []byte
}

// Link is the transport-agnostic contract every backend (loopback test
// link, NNG, ZeroMQ) implements. A Link corresponds to one logical channel
// of a streamer or one register-access path of client-zero.
type Link interface {
	// Recv blocks until a frame is available, ctx is done, or the deadline
	// set by SetRecvDeadline elapses, whichever comes first.
	Recv(ctx context.Context) (Frame, error)

	// Send blocks until the frame is accepted for transmission, ctx is
	// done, or the deadline set by SetSendDeadline elapses.
	Send(ctx context.Context, f Frame) error

	// ReleaseRecvBuff returns a frame's buffer to the link's pool once the
	// caller is done reading it.
	ReleaseRecvBuff(f Frame)

	// MaxPayloadSize reports the largest payload, in bytes, a single Send
	// may carry.
	MaxPayloadSize() int

	SetRecvDeadline(d time.Duration)
	SetSendDeadline(d time.Duration)

	Close() error
}
