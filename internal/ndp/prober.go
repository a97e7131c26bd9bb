package ndp

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/go-ping/ping"
)

// Prober sends a single ICMPv6 echo request and reports whether a reply came
// back. A reply is an upper-layer confirmation that the neighbor is
// reachable.
type Prober struct {
	timeout    time.Duration
	privileged bool
}

func NewProber(timeout time.Duration, privileged bool) *Prober {
	return &Prober{
		timeout:    timeout,
		privileged: privileged,
	}
}

func (m *Prober) Probe(ctx context.Context, ip netip.Addr) (bool, error) {
	pinger, err := ping.NewPinger(ip.String())
	if err != nil {
		return false, fmt.Errorf("failed to create pinger for %s: %w", ip, err)
	}
	pinger.Count = 1
	pinger.Timeout = m.timeout
	pinger.SetPrivileged(m.privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return false, fmt.Errorf("failed to ping %s: %w", ip, err)
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}
