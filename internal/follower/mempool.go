package follower

import "github.com/ouziel-slama/kontor/pkg/types"

// MempoolCache tracks the last known mempool set so incoming snapshots
// (a fresh RPC getrawmempool list, or the reconciled view after a ZMQ
// disconnect) can be turned into a minimal Remove/Insert diff.
type MempoolCache struct {
	set map[types.Hash256]struct{}
}

// NewMempoolCache builds an empty cache.
func NewMempoolCache() *MempoolCache {
	return &MempoolCache{set: make(map[types.Hash256]struct{})}
}

// Diff computes the events needed to turn the cache's current set into
// set(incoming): a MempoolRemove for every txid in the cache but not in
// incoming, then a MempoolInsert for every txid in incoming but not in
// the cache. Duplicates in incoming collapse; an incoming list with no
// new or removed members yields no events at all, and an empty incoming
// list yields a single MempoolRemove carrying every previously cached
// txid. The cache is updated to match incoming regardless of what is
// emitted.
func (c *MempoolCache) Diff(incoming []types.Hash256) []Event {
	next := make(map[types.Hash256]struct{}, len(incoming))
	for _, txid := range incoming {
		next[txid] = struct{}{}
	}

	var removed []types.Hash256
	for txid := range c.set {
		if _, ok := next[txid]; !ok {
			removed = append(removed, txid)
		}
	}
	var added []types.Hash256
	for txid := range next {
		if _, ok := c.set[txid]; !ok {
			added = append(added, txid)
		}
	}

	c.set = next

	var events []Event
	if len(removed) > 0 {
		events = append(events, Event{Kind: EventMempoolRemove, MempoolTxids: removed})
	}
	if len(added) > 0 {
		events = append(events, Event{Kind: EventMempoolInsert, MempoolTxids: added})
	}
	return events
}

// Add records a single ZMQ-observed mempool addition, returning the
// MempoolInsert event unless txid was already cached.
func (c *MempoolCache) Add(txid types.Hash256) (Event, bool) {
	if _, ok := c.set[txid]; ok {
		return Event{}, false
	}
	c.set[txid] = struct{}{}
	return Event{Kind: EventMempoolInsert, MempoolTxids: []types.Hash256{txid}}, true
}

// Remove records a single ZMQ-observed mempool removal.
func (c *MempoolCache) Remove(txid types.Hash256) (Event, bool) {
	if _, ok := c.set[txid]; !ok {
		return Event{}, false
	}
	delete(c.set, txid)
	return Event{Kind: EventMempoolRemove, MempoolTxids: []types.Hash256{txid}}, true
}

// Snapshot returns every cached txid. The MempoolSet emitted after a
// ZMQ disconnect is built by Reset from a fresh RPC list, not from this.
func (c *MempoolCache) Snapshot() []types.Hash256 {
	out := make([]types.Hash256, 0, len(c.set))
	for txid := range c.set {
		out = append(out, txid)
	}
	return out
}

// Reset replaces the cache outright with incoming and returns the
// single MempoolSet event a fresh getrawmempool snapshot produces after
// a ZMQ disconnect, unlike Diff's Remove/Insert pair. The steady-state
// loop does not coalesce: it forwards each ZMQ add/remove through Add
// and Remove as a single-txid event.
func (c *MempoolCache) Reset(incoming []types.Hash256) Event {
	next := make(map[types.Hash256]struct{}, len(incoming))
	set := make([]types.Hash256, 0, len(incoming))
	for _, txid := range incoming {
		if _, dup := next[txid]; dup {
			continue
		}
		next[txid] = struct{}{}
		set = append(set, txid)
	}
	c.set = next
	return Event{Kind: EventMempoolSet, MempoolTxids: set}
}
