// Package dispatcher accepts client sockets and hands each to a worker
// running one pipeline instance to completion (§4.6). It generalises the
// teacher's http.Server-based Start/Shutdown lifecycle to a raw
// net.Listener accept loop, one goroutine per connection — the Go
// analogue of the original's detached pthread per connection.
package dispatcher

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net"
    "time"

    "github.com/cenkalti/backoff/v5"
    "github.com/google/uuid"

    "github.com/arohan/fcproxy/internal/admission"
    "github.com/arohan/fcproxy/internal/logging"
    "github.com/arohan/fcproxy/internal/metrics"
    "github.com/arohan/fcproxy/internal/pipeline"
)

// Dispatcher owns the listening socket and spawns one goroutine per
// accepted connection. Workers are independent: no shared state beyond
// the cache (reached through the pipeline) and the listener itself.
type Dispatcher struct {
    listener net.Listener
    pipeline *pipeline.Pipeline
    limiter  *admission.Limiter
    log      *logging.Logger
    m        *metrics.Metrics
}

// New wraps an already-bound listener. Binding happens in cmd/proxy so
// the CLI can report a bind failure with exit code 1 before any workers
// start, per §6.
func New(listener net.Listener, p *pipeline.Pipeline, limiter *admission.Limiter, log *logging.Logger, m *metrics.Metrics) *Dispatcher {
    return &Dispatcher{listener: listener, pipeline: p, limiter: limiter, log: log, m: m}
}

// Run accepts connections until ctx is cancelled or the listener is
// closed. Transient Accept errors (temporary network conditions, not a
// closed listener) are retried with capped exponential backoff instead of
// the fixed-delay loop net/http's server historically used for the same
// problem.
func (d *Dispatcher) Run(ctx context.Context) error {
    go func() {
        <-ctx.Done()
        d.listener.Close()
    }()

    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 5 * time.Millisecond
    b.MaxInterval = 1 * time.Second

    for {
        conn, err := d.listener.Accept()
        if err != nil {
            if ctx.Err() != nil {
                return nil
            }
            var netErr net.Error
            if errors.As(err, &netErr) && netErr.Temporary() { //nolint:staticcheck // Temporary is the signal this loop needs
                delay := b.NextBackOff()
                if d.log != nil {
                    d.log.Warn(ctx, "transient accept error, retrying", slog.String("error", err.Error()), slog.Duration("backoff", delay))
                }
                select {
                case <-time.After(delay):
                    continue
                case <-ctx.Done():
                    return nil
                }
            }
            return fmt.Errorf("dispatcher: accept failed: %w", err)
        }
        b.Reset()

        if d.m != nil {
            d.m.ConnectionAccepted()
        }
        go d.handle(ctx, conn)
    }
}

// handle admits the connection through the limiter, runs the pipeline to
// completion, and always closes the socket and releases the limiter slot
// on the way out.
func (d *Dispatcher) handle(ctx context.Context, conn net.Conn) {
    defer conn.Close()
    defer func() {
        if d.m != nil {
            d.m.ConnectionClosed()
        }
    }()

    if err := d.limiter.Acquire(ctx); err != nil {
        return
    }
    defer d.limiter.Release()

    connID := uuid.NewString()
    if d.log != nil {
        d.log.Debug(ctx, "connection accepted",
            slog.String("conn_id", connID),
            slog.String("remote_addr", conn.RemoteAddr().String()),
        )
    }

    d.pipeline.Serve(ctx, conn, connID)
}
