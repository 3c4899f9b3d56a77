// Package dialer opens the origin connection for a cache miss. It
// supplements §4.5's single-attempt CONNECT step with round-robin fan-out
// across a host's resolved addresses, adapted from the teacher's backend
// round-robin load balancer to a single forward-proxy origin with
// multiple A/AAAA records instead of a configured backend pool.
package dialer

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "time"
)

// ErrNoAddresses is returned when DNS resolution yields no usable
// addresses for a host.
var ErrNoAddresses = errors.New("dialer: host resolved to no addresses")

// RoundRobin dials an origin host:port, cycling through the host's
// resolved IP addresses on successive dials and retrying the next address
// on failure before giving up. A single instance is shared by every
// connection worker, exactly as the teacher's RoundRobinBalancer is
// shared by every request.
type RoundRobin struct {
    resolver *net.Resolver
    dialer   net.Dialer

    mu      sync.Mutex
    cursors map[string]int // per-host index into the last resolved address list
}

// NewRoundRobin creates a round-robin origin dialer using the default
// resolver and a dial timeout suited to a synchronous per-connection
// pipeline.
func NewRoundRobin(dialTimeout time.Duration) *RoundRobin {
    return &RoundRobin{
        resolver: net.DefaultResolver,
        dialer:   net.Dialer{Timeout: dialTimeout},
        cursors:  make(map[string]int),
    }
}

// Dial resolves host and dials its addresses in round-robin order
// starting from this host's current cursor, advancing the cursor by one
// address on every call regardless of outcome — the same "move to next
// backend for subsequent requests" rule the teacher's SelectBackend uses.
// It returns once a dial succeeds or every resolved address has been
// tried.
func (rr *RoundRobin) Dial(ctx context.Context, host, port string) (net.Conn, error) {
    addrs, err := rr.resolver.LookupHost(ctx, host)
    if err != nil {
        return nil, fmt.Errorf("dialer: resolve %s: %w", host, err)
    }
    if len(addrs) == 0 {
        return nil, ErrNoAddresses
    }

    start := rr.advance(host, len(addrs))

    var lastErr error
    for i := 0; i < len(addrs); i++ {
        addr := addrs[(start+i)%len(addrs)]
        conn, err := rr.dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
        if err == nil {
            return conn, nil
        }
        lastErr = err
    }
    return nil, fmt.Errorf("dialer: all addresses for %s failed, last error: %w", host, lastErr)
}

// advance returns the cursor to start this dial from and moves it on by
// one, wrapping at n, mirroring RoundRobinBalancer.current.
func (rr *RoundRobin) advance(host string, n int) int {
    rr.mu.Lock()
    defer rr.mu.Unlock()

    cur := rr.cursors[host] % n
    rr.cursors[host] = (cur + 1) % n
    return cur
}
