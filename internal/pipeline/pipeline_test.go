package pipeline

import (
    "bufio"
    "bytes"
    "context"
    "io"
    "net"
    "sync/atomic"
    "testing"
    "time"

    "github.com/arohan/fcproxy/internal/cache"
)

// fakeDialer hands back one end of a net.Pipe and lets the test drive the
// "origin" from the other end, counting how many times Dial was called so
// tests can assert S2's "origin receives 0 requests" on a repeat hit.
type fakeDialer struct {
    calls   int32
    respond func(origin net.Conn)
}

func (f *fakeDialer) Dial(ctx context.Context, host, port string) (net.Conn, error) {
    atomic.AddInt32(&f.calls, 1)
    clientSide, originSide := net.Pipe()
    go func() {
        // net.Pipe is unbuffered: the pipeline's upstream write only
        // completes once this side reads it, so consume the request
        // through its terminating blank line before responding.
        br := bufio.NewReader(originSide)
        for {
            line, err := br.ReadString('\n')
            if err != nil || line == "\r\n" {
                break
            }
        }
        f.respond(originSide)
        originSide.Close()
    }()
    return clientSide, nil
}

// serveOnce drives one request through the pipeline over an in-memory
// socket pair and returns whatever bytes the client received.
func serveOnce(t *testing.T, p *Pipeline, request string) string {
    t.Helper()
    clientSide, serverSide := net.Pipe()

    done := make(chan struct{})
    go func() {
        p.Serve(context.Background(), serverSide, "test-conn")
        close(done)
    }()

    if _, err := clientSide.Write([]byte(request)); err != nil {
        t.Fatalf("write request: %v", err)
    }

    var buf bytes.Buffer
    readDone := make(chan struct{})
    go func() {
        io.Copy(&buf, clientSide)
        close(readDone)
    }()

    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("pipeline.Serve did not complete in time")
    }
    clientSide.Close()
    <-readDone

    return buf.String()
}

// TestMissThenHit is S1/S2: the first request fetches from the origin and
// admits the response; the second is served from the cache without
// dialing the origin again.
func TestMissThenHit(t *testing.T) {
    idx := cache.NewIndex(nil, nil)
    dialer := &fakeDialer{respond: func(origin net.Conn) {
        // The pipeline relays the origin's raw byte stream verbatim
        // (there is no response-header parsing in §4.5), so a 5-byte
        // write here is exactly S1's 5-byte cached entry.
        io.WriteString(origin, "hello")
    }}
    p := New(idx, dialer, nil, nil, 0, 0)

    out1 := serveOnce(t, p, "GET http://h:1/x HTTP/1.0\r\n\r\n")
    if out1 != "hello" {
        t.Fatalf("expected origin response relayed to client, got %q", out1)
    }
    if atomic.LoadInt32(&dialer.calls) != 1 {
        t.Fatalf("expected exactly one dial, got %d", dialer.calls)
    }

    if idx.Len() != 1 {
        t.Fatalf("expected one resident cache entry after admission, got %d", idx.Len())
    }
    if got := idx.TotalBytes(); got != 5 {
        t.Fatalf("expected cache entry size 5 per S1, got %d", got)
    }

    out2 := serveOnce(t, p, "GET http://h:1/x HTTP/1.0\r\n\r\n")
    if out2 != "hello" {
        t.Fatalf("expected cache-served body %q, got %q", "hello", out2)
    }
    if atomic.LoadInt32(&dialer.calls) != 1 {
        t.Fatalf("expected the origin not to be dialed again on a cache hit, got %d calls", dialer.calls)
    }
}

// TestNonGETRejected is S5: a POST never causes a dial and gets a 501.
func TestNonGETRejected(t *testing.T) {
    idx := cache.NewIndex(nil, nil)
    dialer := &fakeDialer{respond: func(net.Conn) {}}
    p := New(idx, dialer, nil, nil, 0, 0)

    out := serveOnce(t, p, "POST /x HTTP/1.0\r\n\r\n")
    if !bytes.Contains([]byte(out), []byte("501")) {
        t.Fatalf("expected a 501 response, got %q", out)
    }
    if atomic.LoadInt32(&dialer.calls) != 0 {
        t.Fatal("expected no origin connection to be opened for a non-GET request")
    }
}

// TestMalformedRequestRejected checks the 400 path.
func TestMalformedRequestRejected(t *testing.T) {
    idx := cache.NewIndex(nil, nil)
    dialer := &fakeDialer{respond: func(net.Conn) {}}
    p := New(idx, dialer, nil, nil, 0, 0)

    out := serveOnce(t, p, "garbage\r\n\r\n")
    if !bytes.Contains([]byte(out), []byte("400")) {
        t.Fatalf("expected a 400 response, got %q", out)
    }
}

// TestOversizedResponseRelayedButNotCached is S6: a 150KB origin body is
// fully relayed to the client but left out of the cache.
func TestOversizedResponseRelayedButNotCached(t *testing.T) {
    idx := cache.NewIndex(nil, nil)
    body := bytes.Repeat([]byte{'z'}, 150*1024)
    dialer := &fakeDialer{respond: func(origin net.Conn) {
        origin.Write(body)
    }}
    p := New(idx, dialer, nil, nil, 0, 0)

    out := serveOnce(t, p, "GET http://h:1/big HTTP/1.0\r\n\r\n")
    if !bytes.Contains([]byte(out), body) {
        t.Fatal("expected the full oversized body to reach the client")
    }
    if idx.Len() != 0 {
        t.Fatalf("expected the oversized response not to be cached, got %d resident entries", idx.Len())
    }
}
