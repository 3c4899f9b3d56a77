// Package config holds the proxy's process-wide configuration. §6 is
// explicit that the CLI takes exactly one positional port argument — no
// flags, environment variables, or configuration file — so unlike the
// teacher's YAML-shaped config, this one is populated from that single
// argument plus compiled-in constants, never from a file.
package config

import (
    "sync"
    "time"
)

var (
    instance *Config
    once     sync.Once
)

// Config aggregates the proxy's runtime settings.
type Config struct {
    Server  ServerConfig
    Cache   CacheConfig
    Tracing TracingConfig
}

// ServerConfig controls the listening socket and per-connection timeouts.
// The original C proxy has no timeouts at all; an un-deadlined net.Conn
// read on a slow or silent client is a real resource leak a Go
// realisation should not reintroduce.
type ServerConfig struct {
    Port            int
    ReadTimeout     time.Duration
    WriteTimeout    time.Duration
    DialTimeout     time.Duration
    MaxConnections  int // 0 means unbounded; see internal/admission
    MetricsPortOffset int
}

// CacheConfig mirrors the bit-exact constants from spec §3. They are not
// configurable: MaxCacheSize and MaxObjectSize are contract, not policy.
type CacheConfig struct {
    MaxCacheSize  int
    MaxObjectSize int
}

// TracingConfig controls optional OpenTelemetry export, disabled by
// default since §6 names no flag or environment variable to enable it.
type TracingConfig struct {
    Enabled        bool
    ServiceName    string
    ServiceVersion string
    Environment    string
    JaegerEndpoint string
    OTLPEndpoint   string
    SamplingRatio  float64
}

// defaultConfig returns the compiled-in baseline; only Server.Port is
// expected to be overridden, from the CLI's positional argument.
func defaultConfig() *Config {
    return &Config{
        Server: ServerConfig{
            Port:              8080,
            ReadTimeout:       30 * time.Second,
            WriteTimeout:      30 * time.Second,
            DialTimeout:       10 * time.Second,
            MaxConnections:    0,
            MetricsPortOffset: 1,
        },
        Cache: CacheConfig{
            MaxCacheSize:  1024 * 1024,
            MaxObjectSize: 100 * 1024,
        },
        Tracing: TracingConfig{
            Enabled:        false,
            ServiceName:    "proxy",
            ServiceVersion: "1.0.0",
            Environment:    "development",
            SamplingRatio:  0.1,
        },
    }
}

// Load initialises the singleton from the CLI's port argument. Safe to
// call once at startup; subsequent calls are no-ops, matching the
// teacher's sync.Once-backed singleton.
func Load(port int) *Config {
    once.Do(func() {
        instance = defaultConfig()
        instance.Server.Port = port
    })
    return instance
}
