//go:build nng

package transport

import (
	"context"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// NNGLink carries CHDR frames over a PUSH/PULL pair of nanomsg sockets —
// PUSH for the transmit direction, PULL for receive, mirroring the
// pub/sub and push/pull socket roles in pkg/replication/nng_transport.go.
type NNGLink struct {
	send       mangos.Socket
	recv       mangos.Socket
	maxPayload int
}

// DialNNGLink connects a transmit PUSH socket to sendAddr and a receive
// PULL socket to recvAddr.
func DialNNGLink(sendAddr, recvAddr string, maxPayload int) (*NNGLink, error) {
	pushSock, err := push.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("nnglink: new push socket: %w", err)
	}
	if err := pushSock.Dial(sendAddr); err != nil {
		return nil, fmt.Errorf("nnglink: dial push %s: %w", sendAddr, err)
	}

	pullSock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("nnglink: new pull socket: %w", err)
	}
	if err := pullSock.Dial(recvAddr); err != nil {
		return nil, fmt.Errorf("nnglink: dial pull %s: %w", recvAddr, err)
	}

	return &NNGLink{send: pushSock, recv: pullSock, maxPayload: maxPayload}, nil
}

// ListenNNGLink is the symmetric server-side counterpart of DialNNGLink.
func ListenNNGLink(sendAddr, recvAddr string, maxPayload int) (*NNGLink, error) {
	pushSock, err := push.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("nnglink: new push socket: %w", err)
	}
	if err := pushSock.Listen(sendAddr); err != nil {
		return nil, fmt.Errorf("nnglink: listen push %s: %w", sendAddr, err)
	}

	pullSock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("nnglink: new pull socket: %w", err)
	}
	if err := pullSock.Listen(recvAddr); err != nil {
		return nil, fmt.Errorf("nnglink: listen pull %s: %w", recvAddr, err)
	}

	return &NNGLink{send: pushSock, recv: pullSock, maxPayload: maxPayload}, nil
}

func (l *NNGLink) Recv(ctx context.Context) (Frame, error) {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := l.recv.Recv()
		done <- result{buf, err}
	}()

	select {
	case r := <-done:
		if r.err == mangos.ErrRecvTimeout {
			return Frame{}, ErrTimeout
		}
		if r.err != nil {
			return Frame{}, r.err
		}
		return Frame{Buf: r.buf}, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (l *NNGLink) Send(ctx context.Context, f Frame) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		done <- result{l.send.Send(f.Buf)}
	}()

	select {
	case r := <-done:
		if r.err == mangos.ErrSendTimeout {
			return ErrTimeout
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseRecvBuff is a no-op: mangos allocates its own receive buffers and
// does not offer an explicit release path.
func (l *NNGLink) ReleaseRecvBuff(Frame) {}

func (l *NNGLink) MaxPayloadSize() int { return l.maxPayload }

func (l *NNGLink) SetRecvDeadline(d time.Duration) {
	_ = l.recv.SetOption(mangos.OptionRecvDeadline, d)
}

func (l *NNGLink) SetSendDeadline(d time.Duration) {
	_ = l.send.SetOption(mangos.OptionSendDeadline, d)
}

func (l *NNGLink) Close() error {
	sendErr := l.send.Close()
	recvErr := l.recv.Close()
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}
