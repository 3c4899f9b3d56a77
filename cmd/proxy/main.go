// Command proxy runs the concurrent caching forward proxy described in
// this repository. Usage: proxy <port>. Exit code 1 on a missing
// argument or bind failure; no flags, no environment variables, no
// configuration file, per §6.
package main

import (
    "context"
    "fmt"
    "log/slog"
    "net"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/arohan/fcproxy/internal/admission"
    "github.com/arohan/fcproxy/internal/cache"
    "github.com/arohan/fcproxy/internal/config"
    "github.com/arohan/fcproxy/internal/dialer"
    "github.com/arohan/fcproxy/internal/dispatcher"
    "github.com/arohan/fcproxy/internal/logging"
    "github.com/arohan/fcproxy/internal/metrics"
    "github.com/arohan/fcproxy/internal/pipeline"
    "github.com/arohan/fcproxy/internal/tracing"
)

func main() {
    if len(os.Args) != 2 {
        fmt.Fprintln(os.Stderr, "usage: proxy <port>")
        os.Exit(1)
    }
    port, err := strconv.Atoi(os.Args[1])
    if err != nil || port <= 0 || port > 65535 {
        fmt.Fprintf(os.Stderr, "invalid port %q\n", os.Args[1])
        os.Exit(1)
    }

    // Ignored for parity with the original's signal(SIGPIPE, SIG_IGN): a
    // write to a closed net.Conn already surfaces as an error return in
    // Go rather than a process-terminating signal, but §7 names this
    // requirement explicitly.
    signal.Ignore(syscall.SIGPIPE)

    cfg := config.Load(port)
    log := logging.NewLogger("proxy")
    ctx := context.Background()

    shutdownTracing, err := tracing.InitTracing(tracing.FromConfig(
        cfg.Tracing.ServiceName, cfg.Tracing.ServiceVersion, cfg.Tracing.Environment,
        cfg.Tracing.JaegerEndpoint, cfg.Tracing.OTLPEndpoint, cfg.Tracing.SamplingRatio, cfg.Tracing.Enabled,
    ))
    if err != nil {
        log.Fatal(ctx, "failed to initialise tracing", err)
    }
    defer shutdownTracing()

    m := metrics.NewMetrics()
    idx := cache.NewIndex(log, m)
    origin := dialer.NewRoundRobin(cfg.Server.DialTimeout)
    limiter := admission.NewLimiter(cfg.Server.MaxConnections)
    p := pipeline.New(idx, origin, log, m, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

    listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
    if err != nil {
        log.Error(ctx, "failed to bind listener", err, slog.Int("port", cfg.Server.Port))
        os.Exit(1)
    }

    d := dispatcher.New(listener, p, limiter, log, m)

    debugAddr := fmt.Sprintf(":%d", cfg.Server.Port+cfg.Server.MetricsPortOffset)
    debugServer := &http.Server{Addr: debugAddr, Handler: m.Handler()}
    go func() {
        if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Warn(ctx, "debug metrics listener stopped", slog.String("error", err.Error()))
        }
    }()

    runCtx, cancel := context.WithCancel(ctx)

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

    errChan := make(chan error, 1)
    go func() {
        log.Info(ctx, "proxy listening", slog.Int("port", cfg.Server.Port))
        if err := d.Run(runCtx); err != nil {
            errChan <- err
        }
    }()

    select {
    case <-sigChan:
        log.Info(ctx, "received termination signal, shutting down")
    case err := <-errChan:
        log.Error(ctx, "dispatcher stopped unexpectedly", err)
    }

    cancel()

    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer shutdownCancel()
    debugServer.Shutdown(shutdownCtx)

    log.Info(ctx, "proxy stopped")
}
