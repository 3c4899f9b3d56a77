// Package pipeline drives one client connection through the state
// machine in §4.5: READ_REQ -> LOOKUP -> (HIT -> DONE) | (MISS -> CONNECT
// -> WRITE_UP -> RELAY -> ADMIT? -> DONE). It is grounded directly on
// original_source/proxy.c's threadRoutine, with the bugs named in §9
// fixed: the relay step accumulates the full concatenated body rather
// than only the last chunk read, and the rewritten request is written to
// the origin with its exact byte length rather than a fixed buffer.
package pipeline

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "net"
    "time"

    "go.opentelemetry.io/otel/trace"

    "github.com/arohan/fcproxy/internal/cache"
    "github.com/arohan/fcproxy/internal/httpreq"
    "github.com/arohan/fcproxy/internal/logging"
    "github.com/arohan/fcproxy/internal/metrics"
)

// errorTemplate is the HTML body template from §6, filled in with the
// numeric code, a short reason phrase, and a longer explanation.
const errorTemplate = `<!DOCTYPE html><html><head><title>Server Error</title></head><body bgcolor="ffffff"><h1>%d: %s</h1><p>%s</p></body></html>`

// Dialer opens the origin connection for a cache miss. internal/dialer's
// RoundRobin satisfies this.
type Dialer interface {
    Dial(ctx context.Context, host, port string) (net.Conn, error)
}

// Pipeline runs the per-connection state machine against a shared cache
// index and origin dialer. One Pipeline is shared by every connection
// worker; it holds no per-connection state itself.
type Pipeline struct {
    cache        *cache.Index
    dial         Dialer
    log          *logging.Logger
    m            *metrics.Metrics
    readTimeout  time.Duration
    writeTimeout time.Duration
}

// New creates a Pipeline. log and m may be nil in tests. readTimeout and
// writeTimeout bound every blocking read/write on both the client and
// origin sockets; zero means no deadline. The original C proxy never set
// either, which left a slow or silent client or origin holding a worker
// thread forever — a leak a Go realisation should not reintroduce.
func New(idx *cache.Index, dial Dialer, log *logging.Logger, m *metrics.Metrics, readTimeout, writeTimeout time.Duration) *Pipeline {
    return &Pipeline{cache: idx, dial: dial, log: log, m: m, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (p *Pipeline) setReadDeadline(conn net.Conn) {
    if p.readTimeout > 0 {
        conn.SetReadDeadline(time.Now().Add(p.readTimeout))
    }
}

func (p *Pipeline) setWriteDeadline(conn net.Conn) {
    if p.writeTimeout > 0 {
        conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
    }
}

// Serve runs one connection to completion. It never returns an error to
// its caller: per §7, every error is recovered here, at the
// per-connection boundary, and a single failing connection never affects
// another. connID is a correlation id attached to every log line this
// call emits.
func (p *Pipeline) Serve(ctx context.Context, client net.Conn, connID string) {
    log := p.log
    if log != nil {
        log = log.WithFields(slog.String("conn_id", connID))
        var span trace.Span
        ctx, span = log.StartSpan(ctx, "pipeline.serve")
        defer span.End()
    }

    reader := bufio.NewReader(client)

    // READ_REQ
    p.setReadDeadline(client)
    req, err := httpreq.Parse(reader)
    if errors.Is(err, httpreq.ErrUnsupportedMethod) {
        p.outcome("unsupported_method")
        if log != nil {
            log.Debug(ctx, "rejecting request", slog.String("error", ErrUnsupportedMethod.Error()))
        }
        p.reject(ctx, log, client, 501, "Not Implemented", "The proxy only relays GET requests.")
        return
    }
    if err != nil {
        p.outcome("malformed")
        if log != nil {
            log.Debug(ctx, "rejecting request", slog.String("error", fmt.Errorf("%w: %v", ErrMalformedRequest, err).Error()))
        }
        p.reject(ctx, log, client, 400, "Bad Request", "The request could not be parsed.")
        return
    }

    if log != nil {
        log = log.WithFields(slog.String("url", req.URI))
    }

    // LOOKUP
    p.setWriteDeadline(client)
    if p.cache.LookupAndServe(ctx, req.URI, client) {
        p.outcome("hit")
        if log != nil {
            log.Info(ctx, "cache hit")
        }
        return
    }

    // CONNECT
    origin, err := p.dial.Dial(ctx, req.Host, req.Port)
    if err != nil {
        p.outcome("upstream_unreachable")
        if log != nil {
            log.Warn(ctx, "upstream unreachable", slog.String("error", fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err).Error()))
        }
        return
    }
    defer origin.Close()

    // WRITE_UP — write the rewritten request's exact byte length, never a
    // fixed-size buffer.
    upstream := httpreq.Rewrite(req)
    p.setWriteDeadline(origin)
    if _, err := origin.Write(upstream); err != nil {
        p.outcome("upstream_write_failed")
        if log != nil {
            log.Warn(ctx, "upstream write failed", slog.String("error", fmt.Errorf("%w: %v", ErrUpstreamWriteFailed, err).Error()))
        }
        p.reject(ctx, log, client, 500, "Server Error", "Failed to relay the request upstream.")
        return
    }

    // RELAY
    total, accumulator, cacheable, relayErr := p.relay(ctx, log, client, origin)
    if relayErr != nil {
        p.outcome("upstream_read_failed")
        if log != nil {
            log.Warn(ctx, "upstream read incomplete", slog.String("error", relayErr.Error()), slog.Int("bytes_relayed", total))
        }
    } else {
        p.outcome("miss")
    }

    if total == 0 && log != nil {
        // Supplemented diagnostic: the original logs when zero bytes were
        // ever read from the origin.
        log.Warn(ctx, "origin returned an empty response")
    }

    // ADMIT? — the full concatenated body, never just the last chunk read.
    if cacheable && total > 0 && total <= cache.MaxObjectSize {
        if !p.cache.Admit(ctx, req.URI, accumulator) && log != nil {
            log.Debug(ctx, "cache admit rejected", slog.String("error", ErrCacheAdmitRejected.Error()))
        }
    }
}

// relay implements the RELAY state: it reads from origin into a
// fixed-size intermediate buffer sized MaxObjectSize, writing each chunk
// to the client strictly in the order received and, while cacheability is
// still live, appending it to an accumulator capped at MaxObjectSize+1
// bytes so an overflowing response is detected without growing the
// accumulator unboundedly. It returns the total bytes relayed, the
// accumulated body (valid only when cacheable), whether the response is
// still cacheable, and a non-nil error only for a read failure that left
// the response incomplete — whatever was already written to the client
// remains, per ErrUpstreamReadFailed's contract.
func (p *Pipeline) relay(ctx context.Context, log *logging.Logger, client net.Conn, origin net.Conn) (total int, accumulator []byte, cacheable bool, err error) {
    chunk := make([]byte, cache.MaxObjectSize)
    accumulator = make([]byte, 0, cache.MaxObjectSize+1)
    cacheable = true

    for {
        p.setReadDeadline(origin)
        n, rerr := origin.Read(chunk)
        if n > 0 {
            p.setWriteDeadline(client)
            if _, werr := client.Write(chunk[:n]); werr != nil {
                if log != nil {
                    log.Warn(ctx, "client write failed", slog.String("error", fmt.Errorf("%w: %v", ErrClientWriteFailed, werr).Error()))
                }
                return total, accumulator, false, nil
            }
            total += n

            if cacheable && len(accumulator) <= cache.MaxObjectSize {
                room := cache.MaxObjectSize + 1 - len(accumulator)
                take := n
                if take > room {
                    take = room
                }
                accumulator = append(accumulator, chunk[:take]...)
                if len(accumulator) > cache.MaxObjectSize {
                    cacheable = false
                }
            }
        }

        if rerr != nil {
            if errors.Is(rerr, io.EOF) {
                break
            }
            return total, accumulator, cacheable, fmt.Errorf("%w: %v", ErrUpstreamReadFailed, rerr)
        }
    }

    return total, accumulator, cacheable, nil
}

func (p *Pipeline) outcome(name string) {
    if p.m != nil {
        p.m.PipelineOutcome(name)
    }
}

// reject writes one of the §6 HTML error responses to the client.
func (p *Pipeline) reject(ctx context.Context, log *logging.Logger, client net.Conn, code int, short, long string) {
    body := fmt.Sprintf(errorTemplate, code, short, long)
    status := fmt.Sprintf("HTTP/1.0 %d %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", code, short, len(body), body)
    p.setWriteDeadline(client)
    if _, err := io.WriteString(client, status); err != nil && log != nil {
        log.Warn(ctx, "failed to write error response", slog.String("error", err.Error()))
    }
}
