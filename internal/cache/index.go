// Package cache implements the byte-budgeted, refcounted LRU response
// cache shared by every connection worker.
package cache

import (
    "context"
    "io"
    "log/slog"
    "sync"

    "github.com/dustin/go-humanize"

    "github.com/arohan/fcproxy/internal/logging"
    "github.com/arohan/fcproxy/internal/metrics"
)

// MaxCacheSize is the byte budget the index never exceeds (invariant I1).
const MaxCacheSize = 1024 * 1024

// MaxObjectSize is the largest single response the index will admit
// (invariant I5).
const MaxObjectSize = 100 * 1024

// node is a doubly-linked-list element wrapping a resident entry. The map
// gives O(1) lookup by key; the list gives a deterministic scan order for
// eviction regardless of Go's randomised map iteration order.
type node struct {
    key   string
    entry *Entry
    prev  *node
    next  *node
}

// Index is the directory mapping URL to entry, with size-driven LRU
// eviction. All mutation happens under a single exclusive lock; only the
// body write to a client's sink happens outside it, protected instead by
// the entry's refcount — the concurrency discipline spec'd in §5.
type Index struct {
    mu          sync.Mutex
    entries     map[string]*node
    head        *node // dummy head; head.next is most-recently-stamped
    tail        *node // dummy tail; tail.prev is least-recently-stamped
    totalBytes  int
    clock       int64

    log     *logging.Logger
    metrics *metrics.Metrics
}

// NewIndex creates an empty cache index. log and m may be nil in tests.
func NewIndex(log *logging.Logger, m *metrics.Metrics) *Index {
    head := &node{}
    tail := &node{}
    head.next = tail
    tail.prev = head

    return &Index{
        entries: make(map[string]*node),
        head:    head,
        tail:    tail,
        log:     log,
        metrics: m,
    }
}

// LookupAndServe implements §4.1's lookup_and_serve. It increments the
// clock and searches for url under the lock, bumps the entry's stamp and
// acquires a reader reference while still locked, then writes the body to
// sink entirely outside the lock. A slow client therefore never stalls any
// other cache user.
func (idx *Index) LookupAndServe(ctx context.Context, url string, sink io.Writer) bool {
    idx.mu.Lock()
    idx.clock++
    n, found := idx.entries[url]
    var entry *Entry
    if found {
        entry = n.entry
        entry.stamp.Store(idx.clock)
        entry.acquire()
        idx.moveToFront(n)
    }
    idx.mu.Unlock()

    if !found {
        idx.recordMiss()
        return false
    }

    if err := entry.writeBodyTo(sink); err != nil && idx.log != nil {
        idx.log.Warn(ctx, "cache hit write to client failed", slog.String("url", url), slog.String("error", err.Error()))
    }

    if entry.release() {
        idx.destroy(entry)
    }

    idx.recordHit()
    return true
}

// Admit implements §4.1's admit. Preconditions size > 0 and size <=
// MaxObjectSize are the caller's responsibility (the pipeline only calls
// Admit once the accumulator is confirmed cacheable); Admit itself still
// refuses silently if they are violated, matching §4.1's failure-mode note
// that no partial insertion is ever observable.
func (idx *Index) Admit(ctx context.Context, url string, bytes []byte) bool {
    size := len(bytes)
    if size == 0 || size > MaxObjectSize {
        return false
    }

    idx.mu.Lock()
    defer idx.mu.Unlock()

    // Duplicate-key check happens under the same lock as the insertion
    // that follows, unlike the source this is distilled from.
    if _, exists := idx.entries[url]; exists {
        idx.recordAdmitRejected()
        return false
    }

    if idx.totalBytes+size > MaxCacheSize {
        idx.evictUntil(ctx, size)
    }

    idx.clock++
    entry := newEntry(url, bytes, idx.clock)
    n := &node{key: url, entry: entry}
    idx.entries[url] = n
    idx.addToFront(n)
    idx.totalBytes += size

    if idx.log != nil {
        idx.log.Debug(ctx, "cache admit",
            slog.String("url", url),
            slog.String("size", humanize.Bytes(uint64(size))),
            slog.String("total", humanize.Bytes(uint64(idx.totalBytes))),
        )
    }
    idx.recordAdmit(size)
    return true
}

// evictUntil implements §4.1's evict_until. Caller must hold idx.mu.
// Selects the victim with the smallest stamp, the tie-break guaranteed
// unreachable in practice because every stamp-assigning operation shares
// this single clock (see DESIGN.md). No spin-wait: the index's own
// reference is simply released, and if that is the last one the entry is
// destroyed now; otherwise an in-flight reader's own release destroys it.
func (idx *Index) evictUntil(ctx context.Context, need int) {
    for idx.totalBytes+need > MaxCacheSize {
        victim := idx.oldest()
        if victim == nil {
            // need exceeds MaxCacheSize outright: a precondition
            // violation admission should already have refused.
            return
        }

        idx.removeNode(victim)
        delete(idx.entries, victim.key)
        idx.totalBytes -= victim.entry.Size()

        if idx.log != nil {
            idx.log.Debug(ctx, "cache evict",
                slog.String("url", victim.key),
                slog.String("freed", humanize.Bytes(uint64(victim.entry.Size()))),
            )
        }
        idx.recordEvict(victim.entry.Size())

        if victim.entry.release() {
            idx.destroy(victim.entry)
        }
    }
}

// oldest scans resident entries for the smallest stamp. The scan is linear
// in the number of resident entries, which only the byte budget bounds:
// objects smaller than MaxObjectSize let more than
// MaxCacheSize/MaxObjectSize entries be resident at once.
func (idx *Index) oldest() *node {
    var victim *node
    for n := idx.head.next; n != idx.tail; n = n.next {
        if victim == nil || n.entry.stamp.Load() < victim.entry.stamp.Load() {
            victim = n
        }
    }
    return victim
}

func (idx *Index) moveToFront(n *node) {
    idx.removeNode(n)
    idx.addToFront(n)
}

func (idx *Index) addToFront(n *node) {
    n.prev = idx.head
    n.next = idx.head.next
    idx.head.next.prev = n
    idx.head.next = n
}

func (idx *Index) removeNode(n *node) {
    n.prev.next = n.next
    n.next.prev = n.prev
}

// destroy is a bookkeeping hook only; Go's GC owns the Entry's backing
// storage once every reference and this index's map entry are gone.
func (idx *Index) destroy(*Entry) {}

func (idx *Index) recordHit() {
    if idx.metrics != nil {
        idx.metrics.CacheHit()
    }
}

func (idx *Index) recordMiss() {
    if idx.metrics != nil {
        idx.metrics.CacheMiss()
    }
}

func (idx *Index) recordAdmit(size int) {
    if idx.metrics != nil {
        idx.metrics.CacheAdmit(size)
    }
}

func (idx *Index) recordAdmitRejected() {
    if idx.metrics != nil {
        idx.metrics.CacheAdmitRejected()
    }
}

func (idx *Index) recordEvict(size int) {
    if idx.metrics != nil {
        idx.metrics.CacheEvict(size)
    }
}

// TotalBytes reports current occupancy, for metrics and tests.
func (idx *Index) TotalBytes() int {
    idx.mu.Lock()
    defer idx.mu.Unlock()
    return idx.totalBytes
}

// Len reports the number of resident entries, for tests.
func (idx *Index) Len() int {
    idx.mu.Lock()
    defer idx.mu.Unlock()
    return len(idx.entries)
}
