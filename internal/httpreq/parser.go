// Package httpreq adapts the standard library's HTTP/1.x request parser
// into the five fields the connection pipeline needs, and rewrites a
// parsed request into a conformant HTTP/1.0 upstream request.
package httpreq

import (
    "bufio"
    "errors"
    "fmt"
    "net/http"
    "net/url"
)

// ErrMalformed is returned for anything the parse step rejects: a bad
// request line, a missing host, an unsupported HTTP version, or an
// absolute-form URL whose scheme is not http. A missing port defaults to
// 80. The pipeline turns this into a 400.
var ErrMalformed = errors.New("httpreq: malformed request")

// ErrUnsupportedMethod is returned for any method other than GET. The
// pipeline turns this into a 501.
var ErrUnsupportedMethod = errors.New("httpreq: unsupported method")

// Request is the facade described in §4.3: the five retrievable fields the
// pipeline needs, plus the original header set for the rewriter.
type Request struct {
    Method string
    Host   string
    Port   string
    Path   string
    URI    string // the full URL, used as the cache key

    // RawHost is the authority exactly as it arrived — either the inbound
    // Host header or the absolute-form request line's authority — before
    // splitHostPort separated it into Host/Port. The rewriter forwards
    // this verbatim instead of resynthesising "host:port", since
    // http.ReadRequest already consumes the inbound Host header into
    // req.Host and strips it from req.Header.
    RawHost string

    Header http.Header
}

// Parse reads and parses one HTTP/1.x request line and header block from
// r, using net/http.ReadRequest as the external HTTP parser collaborator
// §6 scopes out of this component's own responsibility. It signals
// "well-formed GET request against an http:// URL with host and port" vs
// malformed, without owning any header policy itself.
func Parse(r *bufio.Reader) (*Request, error) {
    req, err := http.ReadRequest(r)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
    }

    if req.ProtoMajor != 1 || (req.ProtoMinor != 0 && req.ProtoMinor != 1) {
        return nil, fmt.Errorf("%w: unsupported protocol version %s", ErrMalformed, req.Proto)
    }

    if req.Method != http.MethodGet {
        return nil, ErrUnsupportedMethod
    }

    target := req.URL
    if target.Scheme != "" && target.Scheme != "http" {
        return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, target.Scheme)
    }
    host := req.Host
    if target.Host != "" {
        // Absolute-form request line, e.g. "GET http://h:p/path HTTP/1.1".
        host = target.Host
    }
    if host == "" {
        return nil, fmt.Errorf("%w: missing Host", ErrMalformed)
    }

    hostname, port, err := splitHostPort(host)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
    }

    path := target.Path
    if path == "" {
        path = "/"
    }
    if target.RawQuery != "" {
        path += "?" + target.RawQuery
    }

    uri := (&url.URL{Scheme: "http", Host: hostname + ":" + port, Path: target.Path, RawQuery: target.RawQuery}).String()

    return &Request{
        Method:  req.Method,
        Host:    hostname,
        Port:    port,
        Path:    path,
        URI:     uri,
        RawHost: host,
        Header:  req.Header,
    }, nil
}

// splitHostPort returns host and port from a "host" or "host:port"
// authority, defaulting to port 80 when absent.
func splitHostPort(authority string) (host, port string, err error) {
    for i := len(authority) - 1; i >= 0; i-- {
        if authority[i] == ':' {
            return authority[:i], authority[i+1:], nil
        }
        if authority[i] == ']' {
            break // IPv6 literal with no port
        }
    }
    if authority == "" {
        return "", "", errors.New("empty host")
    }
    return authority, "80", nil
}
