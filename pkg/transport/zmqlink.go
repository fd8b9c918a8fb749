//go:build zmq

package transport

import (
	"context"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ZMQLink carries CHDR frames over a PUSH/PULL pair of ZeroMQ sockets,
// mirroring the PUB/ROUTER/PULL socket setup in
// pkg/replication/zmq_primary.go.
type ZMQLink struct {
	push       *zmq.Socket
	pull       *zmq.Socket
	maxPayload int
}

// DialZMQLink connects a PUSH socket to sendAddr and a PULL socket to
// recvAddr.
func DialZMQLink(sendAddr, recvAddr string, maxPayload int) (*ZMQLink, error) {
	push, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, fmt.Errorf("zmqlink: new push socket: %w", err)
	}
	if err := push.Connect(sendAddr); err != nil {
		push.Close()
		return nil, fmt.Errorf("zmqlink: connect push %s: %w", sendAddr, err)
	}

	pull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		push.Close()
		return nil, fmt.Errorf("zmqlink: new pull socket: %w", err)
	}
	if err := pull.Connect(recvAddr); err != nil {
		push.Close()
		pull.Close()
		return nil, fmt.Errorf("zmqlink: connect pull %s: %w", recvAddr, err)
	}

	return &ZMQLink{push: push, pull: pull, maxPayload: maxPayload}, nil
}

// ListenZMQLink is the symmetric server-side counterpart of DialZMQLink.
func ListenZMQLink(sendAddr, recvAddr string, maxPayload int) (*ZMQLink, error) {
	push, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, fmt.Errorf("zmqlink: new push socket: %w", err)
	}
	if err := push.Bind(sendAddr); err != nil {
		push.Close()
		return nil, fmt.Errorf("zmqlink: bind push %s: %w", sendAddr, err)
	}

	pull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		push.Close()
		return nil, fmt.Errorf("zmqlink: new pull socket: %w", err)
	}
	if err := pull.Bind(recvAddr); err != nil {
		push.Close()
		pull.Close()
		return nil, fmt.Errorf("zmqlink: bind pull %s: %w", recvAddr, err)
	}

	return &ZMQLink{push: push, pull: pull, maxPayload: maxPayload}, nil
}

func (l *ZMQLink) Recv(ctx context.Context) (Frame, error) {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := l.pull.RecvBytes(0)
		done <- result{buf, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			// libzmq reports an expired ZMQ_RCVTIMEO as EAGAIN.
			if zmq.AsErrno(r.err) == zmq.Errno(syscall.EAGAIN) {
				return Frame{}, ErrTimeout
			}
			return Frame{}, r.err
		}
		return Frame{Buf: r.buf}, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (l *ZMQLink) Send(ctx context.Context, f Frame) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := l.push.SendBytes(f.Buf, 0)
		done <- result{err}
	}()

	select {
	case r := <-done:
		if r.err != nil && zmq.AsErrno(r.err) == zmq.Errno(syscall.EAGAIN) {
			return ErrTimeout
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseRecvBuff is a no-op: zmq4 copies received bytes into a fresh Go
// slice per RecvBytes call and offers no pool to return it to.
func (l *ZMQLink) ReleaseRecvBuff(Frame) {}

func (l *ZMQLink) MaxPayloadSize() int { return l.maxPayload }

func (l *ZMQLink) SetRecvDeadline(d time.Duration) {
	l.pull.SetRcvtimeo(d)
}

func (l *ZMQLink) SetSendDeadline(d time.Duration) {
	l.push.SetSndtimeo(d)
}

func (l *ZMQLink) Close() error {
	pushErr := l.push.Close()
	pullErr := l.pull.Close()
	if pushErr != nil {
		return pushErr
	}
	return pullErr
}
