// Package accountcache implements the Account Event Cache: a fixed-capacity
// LFU map from account DID to a mutable account-activity record, with a
// synchronous eviction hook.
package accountcache

import (
	"container/heap"
	"sync"
	"time"
)

// ActivityKind tags what kind of activity bumped an account record.
type ActivityKind int

const (
	ActivityImage ActivityKind = iota
	ActivityVideo
	ActivityRecord
	ActivityExternal
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityImage:
		return "image"
	case ActivityVideo:
		return "video"
	case ActivityRecord:
		return "record"
	case ActivityExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Event is one unit of account activity fed into record().
type Event struct {
	DID  string
	Kind ActivityKind
}

// Record is the accumulated, per-category event counts for one account.
type Record struct {
	DID      string
	Counts   map[ActivityKind]uint64
	LastSeen time.Time
}

func newRecord(did string) *Record {
	return &Record{DID: did, Counts: make(map[ActivityKind]uint64)}
}

func (r *Record) clone() Record {
	counts := make(map[ActivityKind]uint64, len(r.Counts))
	for k, v := range r.Counts {
		counts[k] = v
	}
	return Record{DID: r.DID, Counts: counts, LastSeen: r.LastSeen}
}

// apply is the variant visitor: it augments the record according to the
// event's kind, applying event-specific augmentation.
func (r *Record) apply(e Event) {
	r.Counts[e.Kind]++
	r.LastSeen = time.Now()
}

// entry is one slot in the LFU heap: a record plus its access frequency and
// insertion sequence (used to break frequency ties deterministically).
type entry struct {
	record *Record
	freq   uint64
	seq    uint64
	index  int
}

// lfuHeap orders entries by (freq asc, seq asc): the lowest-frequency,
// earliest-inserted entry sorts first and is evicted first — ties are
// broken consistently by insertion order.
type lfuHeap []*entry

func (h lfuHeap) Len() int { return len(h) }
func (h lfuHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].seq < h[j].seq
}
func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *lfuHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *lfuHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// OnErase is invoked synchronously while the cache's lock is held when LFU
// evicts an entry. It must not call back into the Cache.
type OnErase func(did string, record Record)

// Cache is a fixed-capacity, LFU-evicting map from account DID to Record.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	heap     lfuHeap
	seq      uint64
	onErase  OnErase
}

// New constructs a Cache with the given capacity (account_cache_capacity,
// default 500000).
func New(capacity int, onErase OnErase) *Cache {
	if capacity <= 0 {
		capacity = 500000
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*entry),
		heap:     make(lfuHeap, 0, capacity),
		onErase:  onErase,
	}
}

// Record upserts the account identified by event.DID and applies the
// event's variant-specific augmentation. If the account is new and the
// cache is at capacity, the lowest-frequency, earliest-inserted account is
// evicted first, synchronously invoking OnErase.
func (c *Cache) Record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[e.DID]; ok {
		ent.record.apply(e)
		ent.freq++
		heap.Fix(&c.heap, ent.index)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictLocked()
	}

	rec := newRecord(e.DID)
	rec.apply(e)
	ent := &entry{record: rec, freq: 1, seq: c.seq}
	c.seq++
	c.items[e.DID] = ent
	heap.Push(&c.heap, ent)
}

// evictLocked removes the current minimum-frequency entry. Must be called
// with c.mu held.
func (c *Cache) evictLocked() {
	if c.heap.Len() == 0 {
		return
	}
	victim := heap.Pop(&c.heap).(*entry)
	delete(c.items, victim.record.DID)
	if c.onErase != nil {
		c.onErase(victim.record.DID, victim.record.clone())
	}
}

// GetAccount returns a point-in-time copy of the account record without
// bumping its LFU frequency — a read does not count as a use, and does not
// change frequency ordering unexpectedly.
func (c *Cache) GetAccount(did string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[did]
	if !ok {
		return Record{}, false
	}
	return ent.record.clone(), true
}

// Len reports the current number of cached accounts; it never exceeds
// capacity.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
