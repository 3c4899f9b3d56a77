package pipeline

import "errors"

// Error kinds from §7. All are recovered at the per-connection boundary;
// a single failing connection never affects another, and the process
// never exits because of one.
var (
    // ErrMalformedRequest: parse failure, missing field, bad version.
    // Produces 400 to the client.
    ErrMalformedRequest = errors.New("pipeline: malformed request")

    // ErrUnsupportedMethod: non-GET. Produces 501.
    ErrUnsupportedMethod = errors.New("pipeline: unsupported method")

    // ErrUpstreamUnreachable: origin connect failed. Logged; client
    // connection closed without a synthesised response.
    ErrUpstreamUnreachable = errors.New("pipeline: upstream unreachable")

    // ErrUpstreamWriteFailed: writing the rewritten request to the
    // origin failed. Produces 500.
    ErrUpstreamWriteFailed = errors.New("pipeline: upstream write failed")

    // ErrUpstreamReadFailed: the response from the origin was
    // incomplete. Logged; whatever bytes were relayed remain with the
    // client.
    ErrUpstreamReadFailed = errors.New("pipeline: upstream read failed")

    // ErrClientWriteFailed: writing to the client failed, most often
    // because it disconnected. Logged; connection abandoned.
    ErrClientWriteFailed = errors.New("pipeline: client write failed")

    // ErrCacheAdmitRejected: duplicate key or allocation failure during
    // admission. Logged only, never surfaced to the client.
    ErrCacheAdmitRejected = errors.New("pipeline: cache admit rejected")
)
