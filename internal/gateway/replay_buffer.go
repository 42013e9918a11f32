package gateway

import "sync"

// replayEntry holds one confirmed-result envelope for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer is a fixed-size circular buffer of recently broadcast
// confirmed-result envelopes, keyed by the hub's sequence counter.
// A client that missed messages (dropped as slow, or reconnecting)
// sends a REPLAY request with the last seq it saw and receives the gap.
//
// Live repaint envelopes are never buffered: each one supersedes the
// previous, so replaying them would only deliver stale previews.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope. The oldest entry is overwritten when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Copy so the caller's slice can be reused
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// Since returns the envelopes of all entries with seq > afterSeq,
// oldest first.
func (rb *ReplayBuffer) Since(afterSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result [][]byte
	count := rb.len()
	for i := 0; i < count; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > afterSeq {
			result = append(result, e.Data)
		}
	}
	return result
}

// Len returns the number of entries currently buffered.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
