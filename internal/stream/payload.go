package stream

import (
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
)

// frameHandle owns one received payload from receipt until its decode attempt
// finishes. release must be called exactly once on every path.
type frameHandle struct {
	types.Frame
	released atomic.Bool
	pending  *atomic.Int64
}

func newFrameHandle(seq uint64, data []byte, pending *atomic.Int64) *frameHandle {
	pending.Add(1)
	return &frameHandle{
		Frame:   types.Frame{Data: data, Seq: seq, Received: time.Now()},
		pending: pending,
	}
}

func (h *frameHandle) release() {
	if h.released.CompareAndSwap(false, true) {
		h.Data = nil
		h.pending.Add(-1)
	}
}
