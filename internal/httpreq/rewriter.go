package httpreq

import "bytes"

// userAgent is the proxy's fixed User-Agent string, overriding any inbound
// value, per §4.4 rule 3.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:3.10.0) Gecko/20210731 Firefox/63.0.1"

// reservedHeaders are handled explicitly by Rewrite and must never be
// passed through verbatim from the inbound request.
var reservedHeaders = map[string]bool{
    "Host":             true,
    "User-Agent":       true,
    "Connection":       true,
    "Proxy-Connection": true,
}

// Rewrite produces the upstream request buffer described in §4.4: the
// request line downgraded to HTTP/1.0 regardless of the inbound version, a
// synthesised or preserved Host header, the fixed User-Agent, forced
// connection-closing headers, every other inbound header passed through
// verbatim, and a terminating blank line. This plays the role the
// teacher's reverse-proxy Director closure plays for an outgoing request,
// adapted from header-mutation-before-forward to a from-scratch byte
// buffer since there is no http.Request to mutate on the way to a raw
// socket.
func Rewrite(req *Request) []byte {
    var buf bytes.Buffer

    buf.WriteString(req.Method)
    buf.WriteByte(' ')
    buf.WriteString(req.Path)
    buf.WriteString(" HTTP/1.0\r\n")

    // req.Header never carries a Host entry — http.ReadRequest promotes it
    // into req.Host and strips it from the header map — so the inbound
    // authority is preserved verbatim via RawHost instead, falling back to
    // the synthesised host:port only if a request somehow arrives with
    // neither (parsing already rejects that case before Rewrite is ever
    // called).
    buf.WriteString("Host: ")
    if req.RawHost != "" {
        buf.WriteString(req.RawHost)
    } else {
        buf.WriteString(req.Host)
        buf.WriteByte(':')
        buf.WriteString(req.Port)
    }
    buf.WriteString("\r\n")

    buf.WriteString("User-Agent: ")
    buf.WriteString(userAgent)
    buf.WriteString("\r\n")

    buf.WriteString("Connection: close\r\n")
    buf.WriteString("Proxy-Connection: close\r\n")

    for name, values := range req.Header {
        if reservedHeaders[name] {
            continue
        }
        for _, v := range values {
            buf.WriteString(name)
            buf.WriteString(": ")
            buf.WriteString(v)
            buf.WriteString("\r\n")
        }
    }

    buf.WriteString("\r\n")
    return buf.Bytes()
}
