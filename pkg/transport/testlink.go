package transport

import (
	"context"
	"sync"
	"time"
)

// maxPooledFrameBytes bounds what TestLink will return to its buffer pool,
// mirroring pkg/storage/pools.go's cutoff against pooling outsized slices.
const maxPooledFrameBytes = 1 << 16

var framePool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}

func getFrameBuf(capacity int) []byte {
	p := framePool.Get().(*[]byte)
	if cap(*p) < capacity {
		*p = make([]byte, 0, capacity)
	}
	*p = (*p)[:0]
	return *p
}

func putFrameBuf(buf []byte) {
	if cap(buf) > maxPooledFrameBytes {
		return
	}
	framePool.Put(&buf)
}

// TestLink is an in-process, channel-backed Link with no hardware or socket
// dependency, used by every unit and property test in this module.
type TestLink struct {
	mu             sync.Mutex
	queue          chan Frame
	maxPayload     int
	recvDeadline   time.Duration
	sendDeadline   time.Duration
	closed         bool
	closeOnce      sync.Once
}

// NewTestLink constructs a TestLink with the given queue depth and maximum
// payload size.
func NewTestLink(queueDepth, maxPayload int) *TestLink {
	return &TestLink{
		queue:      make(chan Frame, queueDepth),
		maxPayload: maxPayload,
	}
}

// PushFrame injects a frame as if it had arrived over the wire, for test
// setup. It copies buf into a pooled buffer the caller does not need to
// keep alive.
func (l *TestLink) PushFrame(buf []byte) {
	dst := getFrameBuf(len(buf))
	dst = append(dst, buf...)
	l.queue <- Frame{Buf: dst}
}

// Recv implements Link.
func (l *TestLink) Recv(ctx context.Context) (Frame, error) {
	l.mu.Lock()
	closed := l.closed
	deadline := l.recvDeadline
	l.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}

	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case f, ok := <-l.queue:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-timeoutCh:
		return Frame{}, ErrTimeout
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Send implements Link: it enqueues the frame for whichever TestLink end
// PushFrame-style consumers read from, useful for loopback tests pairing
// two TestLink instances via a shared queue (see NewTestLinkPair).
func (l *TestLink) Send(ctx context.Context, f Frame) error {
	l.mu.Lock()
	closed := l.closed
	deadline := l.sendDeadline
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case l.queue <- f:
		return nil
	case <-timeoutCh:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseRecvBuff implements Link.
func (l *TestLink) ReleaseRecvBuff(f Frame) {
	putFrameBuf(f.Buf)
}

// MaxPayloadSize implements Link.
func (l *TestLink) MaxPayloadSize() int { return l.maxPayload }

// SetRecvDeadline implements Link.
func (l *TestLink) SetRecvDeadline(d time.Duration) {
	l.mu.Lock()
	l.recvDeadline = d
	l.mu.Unlock()
}

// SetSendDeadline implements Link.
func (l *TestLink) SetSendDeadline(d time.Duration) {
	l.mu.Lock()
	l.sendDeadline = d
	l.mu.Unlock()
}

// Close implements Link.
func (l *TestLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.queue)
	})
	return nil
}

// NewTestLinkPair returns two TestLinks sharing one direction of traffic
// each, so that tx's Send feeds rx's Recv — a minimal loopback transport.
func NewTestLinkPair(queueDepth, maxPayload int) (tx *TestLink, rx *TestLink) {
	shared := make(chan Frame, queueDepth)
	tx = &TestLink{queue: shared, maxPayload: maxPayload}
	rx = &TestLink{queue: shared, maxPayload: maxPayload}
	return tx, rx
}
