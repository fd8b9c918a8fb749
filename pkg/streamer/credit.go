package streamer

import (
	"context"
	"sync"
	"time"
)

// CreditWindow bounds the data bytes and packets a transmit streamer may
// have outstanding and unacknowledged, replenished by inbound strs packets
// (capacity_bytes / capacity_pkts), generalized from
// pkg/replication/protocol_config.go's ReplicationConfig buffer/timeout
// shape into a standalone flow-control primitive.
type CreditWindow struct {
	mu sync.Mutex

	availBytes int64
	availPkts  int64

	// waiters is closed and replaced every time credit changes, so blocked
	// Reserve calls wake up and re-check instead of polling.
	waiters chan struct{}
}

// NewCreditWindow builds a window starting with zero credit: a transmit
// streamer must receive at least one strs packet before it can send.
func NewCreditWindow() *CreditWindow {
	return &CreditWindow{waiters: make(chan struct{})}
}

// Replenish folds in a strs packet's reported capacity. A device reports
// cumulative capacity available, not a delta, so this replaces rather than
// adds to the outstanding window.
func (w *CreditWindow) Replenish(capacityBytes int64, capacityPkts int64) {
	w.mu.Lock()
	w.availBytes = capacityBytes
	w.availPkts = capacityPkts
	woken := w.waiters
	w.waiters = make(chan struct{})
	w.mu.Unlock()
	close(woken)
}

// Reserve blocks until nBytes and one packet of credit are available, ctx is
// done, or timeout elapses (0 means no additional timeout beyond ctx),
// whichever comes first, then debits the window. Returns false without
// blocking further once ctx/timeout fires.
func (w *CreditWindow) Reserve(ctx context.Context, nBytes int, timeout time.Duration) bool {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		w.mu.Lock()
		if w.availBytes >= int64(nBytes) && w.availPkts >= 1 {
			w.availBytes -= int64(nBytes)
			w.availPkts--
			w.mu.Unlock()
			return true
		}
		wake := w.waiters
		w.mu.Unlock()

		select {
		case <-wake:
		case <-timeoutCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Outstanding reports the credit currently available in this window, for
// metrics reporting.
func (w *CreditWindow) Outstanding() (bytes, pkts int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.availBytes, w.availPkts
}
