package httpreq

import (
    "net/http"
    "strings"
    "testing"
)

func TestRewriteDowngradesToHTTP10(t *testing.T) {
    req := &Request{
        Method: "GET",
        Host:   "example.com",
        Port:   "80",
        Path:   "/x",
        URI:    "http://example.com:80/x",
        Header: http.Header{},
    }

    out := string(Rewrite(req))
    if !strings.HasPrefix(out, "GET /x HTTP/1.0\r\n") {
        t.Fatalf("request line not downgraded: %q", out)
    }
    if !strings.Contains(out, "Host: example.com:80\r\n") {
        t.Fatalf("missing synthesised Host header: %q", out)
    }
    if !strings.Contains(out, "User-Agent: "+userAgent+"\r\n") {
        t.Fatal("missing fixed User-Agent header")
    }
    if !strings.Contains(out, "Connection: close\r\n") || !strings.Contains(out, "Proxy-Connection: close\r\n") {
        t.Fatal("missing forced connection-closing headers")
    }
    if !strings.HasSuffix(out, "\r\n\r\n") {
        t.Fatal("missing terminating blank line")
    }
}

// TestRewritePreservesInboundHost covers §4.4 rule 2: the inbound
// authority is forwarded exactly as received. RawHost is what Parse
// populates from the inbound Host header or absolute-form request line —
// http.ReadRequest never leaves a literal "Host" entry in req.Header, so
// Rewrite must read it from there rather than from the header map.
func TestRewritePreservesInboundHost(t *testing.T) {
    req := &Request{Method: "GET", Host: "example.com", Port: "80", Path: "/", RawHost: "virtual.example.com", Header: http.Header{}}

    out := string(Rewrite(req))
    if !strings.Contains(out, "Host: virtual.example.com\r\n") {
        t.Fatalf("expected inbound Host preserved verbatim: %q", out)
    }
}

// TestRewritePreservesInboundHostWithoutPort covers the case the bug fix
// targets directly: an inbound authority with no port must not gain a
// synthesised ":80" suffix.
func TestRewritePreservesInboundHostWithoutPort(t *testing.T) {
    req := &Request{Method: "GET", Host: "example.com", Port: "80", Path: "/", RawHost: "example.com", Header: http.Header{}}

    out := string(Rewrite(req))
    if !strings.Contains(out, "Host: example.com\r\n") {
        t.Fatalf("expected Host without a synthesised port: %q", out)
    }
}

func TestRewritePassesThroughOtherHeaders(t *testing.T) {
    h := http.Header{}
    h.Set("Accept", "text/html")
    h.Set("User-Agent", "should-be-overridden")
    h.Set("Connection", "keep-alive")
    req := &Request{Method: "GET", Host: "h", Port: "80", Path: "/", Header: h}

    out := string(Rewrite(req))
    if !strings.Contains(out, "Accept: text/html\r\n") {
        t.Fatalf("expected Accept header passed through: %q", out)
    }
    if strings.Contains(out, "should-be-overridden") {
        t.Fatal("inbound User-Agent must be overridden, not passed through")
    }
    if strings.Count(out, "\r\nConnection:") != 1 {
        t.Fatalf("expected exactly one Connection header, got: %q", out)
    }
}
