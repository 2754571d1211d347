package resolve

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeDialer accepts connections only for the listed addresses and
// records every probe it receives.
type fakeDialer struct {
	open   map[string]bool
	probed []string
}

func (f *fakeDialer) dial(_ context.Context, _, addr string) (net.Conn, error) {
	f.probed = append(f.probed, addr)
	if f.open[addr] {
		c, s := net.Pipe()
		go s.Close()
		return c, nil
	}
	return nil, errors.New("connection refused")
}

func lanAddrs() ([]net.Addr, error) {
	return []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)},
	}, nil
}

func TestResolveOverrideWins(t *testing.T) {
	d := &fakeDialer{}
	r := &Resolver{
		Override: "http://gpu-box:11434",
		Dial:     d.dial,
	}

	ep := r.Resolve(context.Background())
	if ep.BaseURL != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q, want override", ep.BaseURL)
	}
	if ep.Source != SourceEnv {
		t.Errorf("Source = %q, want %q", ep.Source, SourceEnv)
	}
	if len(d.probed) != 0 {
		t.Errorf("probed %v, want no probes when override is set", d.probed)
	}
}

func TestResolveLoopback(t *testing.T) {
	d := &fakeDialer{open: map[string]bool{"127.0.0.1:11434": true}}
	r := &Resolver{Dial: d.dial, Interfaces: lanAddrs}

	ep := r.Resolve(context.Background())
	if ep.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q, want loopback", ep.BaseURL)
	}
	if ep.Source != SourceLoopback {
		t.Errorf("Source = %q, want %q", ep.Source, SourceLoopback)
	}
}

func TestResolveNetworkTier(t *testing.T) {
	d := &fakeDialer{open: map[string]bool{"192.168.1.50:11434": true}}
	r := &Resolver{Dial: d.dial, Interfaces: lanAddrs}

	ep := r.Resolve(context.Background())
	if ep.BaseURL != "http://192.168.1.50:11434" {
		t.Errorf("BaseURL = %q, want LAN address", ep.BaseURL)
	}
	if ep.Source != SourceNetwork {
		t.Errorf("Source = %q, want %q", ep.Source, SourceNetwork)
	}
	// Loopback must have been tried first.
	if len(d.probed) < 2 || d.probed[0] != "127.0.0.1:11434" {
		t.Errorf("probe order = %v, want loopback first", d.probed)
	}
}

func TestResolveFallbackNeverFails(t *testing.T) {
	d := &fakeDialer{}
	r := &Resolver{Dial: d.dial, Interfaces: lanAddrs}

	ep := r.Resolve(context.Background())
	if ep.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q, want loopback default", ep.BaseURL)
	}
	if ep.Source != SourceFallback {
		t.Errorf("Source = %q, want %q", ep.Source, SourceFallback)
	}
	if ep.ResolvedAt.IsZero() {
		t.Error("ResolvedAt is zero, want timestamp")
	}
}

func TestResolveCustomPort(t *testing.T) {
	d := &fakeDialer{open: map[string]bool{"127.0.0.1:8080": true}}
	r := &Resolver{Port: 8080, Dial: d.dial, Interfaces: lanAddrs}

	ep := r.Resolve(context.Background())
	if ep.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want custom port", ep.BaseURL)
	}
}

func TestResolveInterfaceEnumerationFailure(t *testing.T) {
	d := &fakeDialer{}
	r := &Resolver{
		Dial:       d.dial,
		Interfaces: func() ([]net.Addr, error) { return nil, errors.New("no interfaces") },
	}

	ep := r.Resolve(context.Background())
	if ep.Source != SourceFallback {
		t.Errorf("Source = %q, want fallback when enumeration fails", ep.Source)
	}
}

func TestResolveProbeTimeout(t *testing.T) {
	// A dialer that blocks until its context is cancelled.
	slow := func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := &Resolver{
		Dial:         slow,
		ProbeTimeout: 10 * time.Millisecond,
		Interfaces:   func() ([]net.Addr, error) { return nil, nil },
	}

	start := time.Now()
	ep := r.Resolve(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve() took %v, want probe timeout to bound it", elapsed)
	}
	if ep.Source != SourceFallback {
		t.Errorf("Source = %q, want fallback", ep.Source)
	}
}
