// Package resolve determines which Ollama base URL the bridge talks to.
//
// Resolution is a pure ordered-fallback algorithm with no hidden state:
// an explicit override wins unconditionally, then the local loopback is
// probed, then the host's own LAN address (covering setups where Ollama
// binds only to the machine's external interface), and finally the
// loopback default is returned even when every probe failed; resolution
// never errors, so startup always produces a usable endpoint.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Source records which resolution tier produced an Endpoint.
type Source string

const (
	// SourceEnv means an explicit override was configured; no probing ran.
	SourceEnv Source = "env"
	// SourceLoopback means 127.0.0.1 answered the reachability probe.
	SourceLoopback Source = "loopback"
	// SourceNetwork means a non-loopback interface address answered.
	SourceNetwork Source = "network"
	// SourceFallback means no probe succeeded and the loopback default
	// was used anyway.
	SourceFallback Source = "fallback"
)

// Endpoint is a resolved Ollama API target. Immutable once produced;
// re-resolution happens only on explicit request.
type Endpoint struct {
	BaseURL    string
	ResolvedAt time.Time
	Source     Source
}

// DialFunc probes a TCP address. Injectable for tests; the default is a
// plain net.Dialer dial.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Resolver picks the Ollama base URL per the tiered algorithm above.
type Resolver struct {
	// Override, when non-empty, is returned as-is with SourceEnv.
	Override string

	// Port is the Ollama API port probed on each candidate address.
	Port int

	// ProbeTimeout bounds each individual reachability probe.
	ProbeTimeout time.Duration

	// Dial overrides the probe dialer (tests). Nil uses net.Dialer.
	Dial DialFunc

	// Interfaces overrides interface-address enumeration (tests).
	// Nil uses net.InterfaceAddrs.
	Interfaces func() ([]net.Addr, error)

	Logger *slog.Logger
}

const (
	defaultPort         = 11434
	defaultProbeTimeout = 2 * time.Second
)

// Resolve runs the tiered resolution. It always returns an Endpoint and
// is safe to call repeatedly; each call re-runs the probes.
func (r *Resolver) Resolve(ctx context.Context) Endpoint {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	port := r.Port
	if port <= 0 {
		port = defaultPort
	}

	if r.Override != "" {
		logger.Debug("using explicit Ollama host", "host", r.Override)
		return Endpoint{BaseURL: r.Override, ResolvedAt: time.Now(), Source: SourceEnv}
	}

	loopback := fmt.Sprintf("http://localhost:%d", port)

	if r.probe(ctx, fmt.Sprintf("127.0.0.1:%d", port)) {
		logger.Debug("Ollama reachable on loopback", "port", port)
		return Endpoint{BaseURL: loopback, ResolvedAt: time.Now(), Source: SourceLoopback}
	}

	if addr := r.localIPv4(); addr != "" {
		hostPort := net.JoinHostPort(addr, fmt.Sprintf("%d", port))
		if r.probe(ctx, hostPort) {
			logger.Debug("Ollama reachable on LAN address", "addr", hostPort)
			return Endpoint{
				BaseURL:    fmt.Sprintf("http://%s", hostPort),
				ResolvedAt: time.Now(),
				Source:     SourceNetwork,
			}
		}
	}

	logger.Warn("no Ollama endpoint answered probes, falling back to loopback default",
		"base_url", loopback)
	return Endpoint{BaseURL: loopback, ResolvedAt: time.Now(), Source: SourceFallback}
}

// probe attempts a TCP connection to addr within ProbeTimeout.
func (r *Resolver) probe(ctx context.Context, addr string) bool {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	dial := r.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(probeCtx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// localIPv4 returns the host's first non-loopback IPv4 address, or ""
// when none exists.
func (r *Resolver) localIPv4() string {
	enumerate := r.Interfaces
	if enumerate == nil {
		enumerate = net.InterfaceAddrs
	}

	addrs, err := enumerate()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
