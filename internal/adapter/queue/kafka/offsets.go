package kafka

import (
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// tp identifies one topic partition.
type tp struct {
	topic     string
	partition int32
}

// partitionState tracks the outstanding (dispatched, not yet terminal)
// offsets of one partition. The commit watermark is the lowest outstanding
// offset, or one past the highest terminal offset once the partition drains;
// offset gaps from control records fall out naturally.
type partitionState struct {
	outstanding map[int64]struct{}
	maxTerminal int64
	hasTerminal bool
	// floor is the lowest surrendered offset. It pins the watermark so the
	// surrendered record is redelivered after rebalance; later terminal
	// offsets on the partition must never commit past it.
	floor       int64
	hasFloor    bool
	committed   int64 // last watermark handed out by Flush
	hasFlushed  bool
}

func (st *partitionState) watermark() (int64, bool) {
	wm, ok := st.progress()
	if !ok {
		return 0, false
	}
	if st.hasFloor && wm > st.floor {
		wm = st.floor
	}
	return wm, true
}

// progress is the watermark before the surrender floor is applied.
func (st *partitionState) progress() (int64, bool) {
	if len(st.outstanding) > 0 {
		low := int64(-1)
		for off := range st.outstanding {
			if low < 0 || off < low {
				low = off
			}
		}
		// Nothing below the lowest in-flight offset is outstanding, so the
		// watermark sits exactly there.
		return low, st.hasTerminal || st.hasFlushed
	}
	if !st.hasTerminal {
		return 0, false
	}
	return st.maxTerminal + 1, true
}

// OffsetTracker is the single owner of commit decisions. Workers submit
// terminal offsets through MarkCommittable; the engine drains watermarks
// through Flush. An offset never becomes committable ahead of an earlier
// uncommitted offset on the same partition.
type OffsetTracker struct {
	mu    sync.Mutex
	parts map[tp]*partitionState
}

// NewOffsetTracker builds an empty tracker.
func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{parts: make(map[tp]*partitionState)}
}

// Track registers a dispatched record as outstanding.
func (t *OffsetTracker) Track(topic string, partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := tp{topic, partition}
	st, ok := t.parts[key]
	if !ok {
		st = &partitionState{outstanding: make(map[int64]struct{})}
		t.parts[key] = st
	}
	st.outstanding[offset] = struct{}{}
}

// MarkCommittable records that a tracked offset reached its terminal
// outcome. Untracked offsets are ignored.
func (t *OffsetTracker) MarkCommittable(topic string, partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.parts[tp{topic, partition}]
	if !ok {
		return
	}
	if _, ok := st.outstanding[offset]; !ok {
		return
	}
	delete(st.outstanding, offset)
	if !st.hasTerminal || offset > st.maxTerminal {
		st.maxTerminal = offset
		st.hasTerminal = true
	}
}

// Surrender gives up on an outstanding record without committing it: its
// terminal outcome could not be made durable, so the consumed position must
// stay at the record until a rebalance redelivers it. The partition's
// watermark is pinned at the surrendered offset; terminal outcomes above it
// keep accumulating but cannot commit past the pin. Revoke clears the pin
// when ownership moves.
func (t *OffsetTracker) Surrender(topic string, partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.parts[tp{topic, partition}]
	if !ok {
		return
	}
	delete(st.outstanding, offset)
	if !st.hasFloor || offset < st.floor {
		st.floor = offset
		st.hasFloor = true
	}
}

// Flush returns the partitions whose watermark advanced since the previous
// call, in franz-go commit shape. The committed offset is the next offset to
// consume.
func (t *OffsetTracker) Flush() map[string]map[int32]kgo.EpochOffset {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out map[string]map[int32]kgo.EpochOffset
	for key, st := range t.parts {
		wm, ok := st.watermark()
		if !ok || (st.hasFlushed && wm <= st.committed) {
			continue
		}
		st.committed = wm
		st.hasFlushed = true
		if out == nil {
			out = make(map[string]map[int32]kgo.EpochOffset)
		}
		byPart, ok := out[key.topic]
		if !ok {
			byPart = make(map[int32]kgo.EpochOffset)
			out[key.topic] = byPart
		}
		byPart[key.partition] = kgo.EpochOffset{Epoch: -1, Offset: wm}
	}
	return out
}

// Outstanding reports how many dispatched records have no terminal outcome
// yet, across all partitions.
func (t *OffsetTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.parts {
		n += len(st.outstanding)
	}
	return n
}

// Revoke drops state for a partition this instance no longer owns. Call
// after a final Flush so nothing committable is lost.
func (t *OffsetTracker) Revoke(topic string, partition int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.parts, tp{topic, partition})
}
