package cache

import (
    "bytes"
    "context"
    "fmt"
    "sync"
    "testing"
)

// TestLookupMiss verifies a lookup against an empty index reports a miss.
func TestLookupMiss(t *testing.T) {
    idx := NewIndex(nil, nil)
    var buf bytes.Buffer
    if idx.LookupAndServe(context.Background(), "http://h:1/x", &buf) {
        t.Fatal("expected miss on empty index")
    }
}

// TestAdmitThenLookup verifies S1/S2: an admitted entry is served without
// re-fetching, byte for byte.
func TestAdmitThenLookup(t *testing.T) {
    idx := NewIndex(nil, nil)
    body := []byte("hello")

    if !idx.Admit(context.Background(), "http://h:p/x", body) {
        t.Fatal("expected admit to succeed")
    }

    var buf bytes.Buffer
    if !idx.LookupAndServe(context.Background(), "http://h:p/x", &buf) {
        t.Fatal("expected hit after admit")
    }
    if buf.String() != "hello" {
        t.Fatalf("got %q, want %q", buf.String(), "hello")
    }
    if idx.TotalBytes() != len(body) {
        t.Fatalf("total bytes = %d, want %d", idx.TotalBytes(), len(body))
    }
}

// TestAdmitDuplicateRejected verifies P5: a second admit under the same
// key leaves the first entry resident and reports failure.
func TestAdmitDuplicateRejected(t *testing.T) {
    idx := NewIndex(nil, nil)
    if !idx.Admit(context.Background(), "http://h/x", []byte("first")) {
        t.Fatal("first admit should succeed")
    }
    if idx.Admit(context.Background(), "http://h/x", []byte("second")) {
        t.Fatal("duplicate admit should fail")
    }

    var buf bytes.Buffer
    idx.LookupAndServe(context.Background(), "http://h/x", &buf)
    if buf.String() != "first" {
        t.Fatalf("resident body = %q, want %q (original admit must not be replaced)", buf.String(), "first")
    }
}

// TestAdmitRejectsOversizedObject verifies invariant I5.
func TestAdmitRejectsOversizedObject(t *testing.T) {
    idx := NewIndex(nil, nil)
    oversized := make([]byte, MaxObjectSize+1)
    if idx.Admit(context.Background(), "http://h/big", oversized) {
        t.Fatal("expected admit to refuse an object larger than MaxObjectSize")
    }
}

// TestEvictionUnderBudget exercises S3 with objects admission accepts (each
// at most MaxObjectSize): admitting beyond the byte budget evicts the entry
// with the smallest stamp first. A and B (100_000 bytes each) and eight
// 100_000-byte fillers bring the index to 1_000_000 bytes. Admitting C
// (60_000) would reach 1_060_000, over MaxCacheSize, so A is evicted; D
// (40_000) then fits without any further eviction.
func TestEvictionUnderBudget(t *testing.T) {
    idx := NewIndex(nil, nil)
    ctx := context.Background()

    a := bytes.Repeat([]byte{'a'}, 100*1000)
    b := bytes.Repeat([]byte{'b'}, 100*1000)
    c := bytes.Repeat([]byte{'c'}, 60*1000)
    d := bytes.Repeat([]byte{'d'}, 40*1000)
    filler := bytes.Repeat([]byte{'f'}, 100*1000)

    idx.Admit(ctx, "A", a)
    idx.Admit(ctx, "B", b)
    for i := 0; i < 8; i++ {
        idx.Admit(ctx, fmt.Sprintf("F%d", i), filler)
    }
    if !idx.Admit(ctx, "C", c) {
        t.Fatal("expected admit of C to succeed after evicting A")
    }
    if !idx.Admit(ctx, "D", d) {
        t.Fatal("expected admit of D to succeed")
    }

    var buf bytes.Buffer
    if idx.LookupAndServe(ctx, "A", &buf) {
        t.Fatal("A should have been evicted")
    }
    for _, key := range []string{"B", "C", "D"} {
        buf.Reset()
        if !idx.LookupAndServe(ctx, key, &buf) {
            t.Fatalf("%s should still be resident", key)
        }
    }
    if got, want := idx.TotalBytes(), 1_000_000; got != want {
        t.Fatalf("total bytes = %d, want %d", got, want)
    }
}

// TestBudgetNeverExceeded is a P1-style property check: many admissions of
// a fixed size never push total_bytes above MaxCacheSize, and only the
// most-recently-stamped suffix survives (P4).
func TestBudgetNeverExceeded(t *testing.T) {
    idx := NewIndex(nil, nil)
    ctx := context.Background()
    const size = 64 * 1024
    const n = 40 // n*size well exceeds MaxCacheSize

    for i := 0; i < n; i++ {
        url := fmt.Sprintf("http://h/%d", i)
        body := bytes.Repeat([]byte{byte(i)}, size)
        idx.Admit(ctx, url, body)
        if idx.TotalBytes() > MaxCacheSize {
            t.Fatalf("iteration %d: total bytes %d exceeds budget", i, idx.TotalBytes())
        }
    }

    // Only the most recent admissions should remain resident.
    surviving := MaxCacheSize / size
    for i := n - surviving; i < n; i++ {
        url := fmt.Sprintf("http://h/%d", i)
        var buf bytes.Buffer
        if !idx.LookupAndServe(ctx, url, &buf) {
            t.Fatalf("expected %s to still be resident", url)
        }
    }
    var buf bytes.Buffer
    if idx.LookupAndServe(ctx, "http://h/0", &buf) {
        t.Fatal("expected the earliest admission to have been evicted")
    }
}

// TestBudgetRoundTrip is P6: admitting then evicting an entry restores
// total_bytes to its prior value.
func TestBudgetRoundTrip(t *testing.T) {
    idx := NewIndex(nil, nil)
    ctx := context.Background()

    before := idx.TotalBytes()
    idx.Admit(ctx, "http://h/one", bytes.Repeat([]byte{1}, 90*1024))
    idx.evictUntil(ctx, MaxCacheSize) // force full eviction
    if got := idx.TotalBytes(); got != before {
		t.Fatalf("total bytes after round trip = %d, want %d", got, before)
    }
}

// TestConcurrentLookupDuringEviction exercises S4: a reader mid-write of an
// entry still observes the full body even though a concurrent admission
// evicts that same entry while the write is in flight.
func TestConcurrentLookupDuringEviction(t *testing.T) {
    idx := NewIndex(nil, nil)
    ctx := context.Background()

    body := bytes.Repeat([]byte{'e'}, 1024)
    idx.Admit(ctx, "http://h/e", body)

    blocker := &blockingWriter{started: make(chan struct{}), unblock: make(chan struct{})}

    var wg sync.WaitGroup
    wg.Add(1)
    go func() {
        defer wg.Done()
        if !idx.LookupAndServe(ctx, "http://h/e", blocker) {
            t.Error("expected hit")
        }
    }()

    <-blocker.started

    // Evict enough to force "http://h/e" out of the index while the
    // reader above is still mid-write.
    filler := bytes.Repeat([]byte{'f'}, MaxCacheSize)
    idx.Admit(ctx, "http://h/filler", filler[:MaxObjectSize])
    for i := 0; idx.Len() > 1 && i < 64; i++ {
        idx.Admit(ctx, fmt.Sprintf("http://h/filler-%d", i), filler[:MaxObjectSize])
    }

    close(blocker.unblock)
    wg.Wait()

    if !bytes.Equal(blocker.written, body) {
        t.Fatalf("reader observed %d bytes, want the original %d-byte body", len(blocker.written), len(body))
    }
}

// blockingWriter simulates a slow client: it reports that writing has
// started, waits to be unblocked, then records what it was given.
type blockingWriter struct {
    started chan struct{}
    unblock chan struct{}
    written []byte
}

func (b *blockingWriter) Write(p []byte) (int, error) {
    close(b.started)
    <-b.unblock
    b.written = append(b.written, p...)
    return len(p), nil
}
