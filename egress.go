package main

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// EgressPool is a rotating pool of source addresses RemoteProxy binds its
// origin dials to (SPEC_FULL.md §4.10), adapted from the teacher's
// IPv6-per-listener assignment in ipv6.go/netif.go generalized from "one
// fixed address per listener" to "one pool shared round-robin across all
// dials".
type EgressPool struct {
	addrs []net.IP
	next  atomic.Uint64
}

// NewEgressPool parses and validates the configured address pool. Returns
// nil (a valid, empty pool) when cfg is nil: callers treat a nil pool as
// "dial with the OS default route", spec.md §4.8's behavior.
func NewEgressPool(cfg *EgressConfig) (*EgressPool, error) {
	if cfg == nil {
		return nil, nil
	}

	pool := &EgressPool{addrs: make([]net.IP, 0, len(cfg.Addrs))}
	for _, a := range cfg.Addrs {
		ip, err := parsePoolAddr(a)
		if err != nil {
			return nil, err
		}
		pool.addrs = append(pool.addrs, ip)
	}
	return pool, nil
}

func parsePoolAddr(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("egress: invalid IP address %q", s)
	}
	return ip, nil
}

// Next returns the next address in round-robin order via an atomic
// counter (no locks, matching spec.md §5's lock-free-where-possible
// guidance for hot-path state). Returns nil when the pool is empty/nil.
func (p *EgressPool) Next() net.IP {
	if p == nil || len(p.addrs) == 0 {
		return nil
	}
	i := p.next.Add(1) - 1
	return p.addrs[i%uint64(len(p.addrs))]
}

// EnsureAssigned checks each pool address against iface's currently
// assigned addresses and adds any that are missing, carried directly from
// the teacher's EnsureIPv6Addresses (netif.go): idempotent, tolerant of a
// concurrent "already exists" race, Linux-only (uses `ip addr add`).
func (p *EgressPool) EnsureAssigned(iface string, log *zap.SugaredLogger) error {
	if p == nil || iface == "" {
		return nil
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("egress: interface %q: %w", iface, err)
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return fmt.Errorf("egress: list addresses on %q: %w", iface, err)
	}

	existing := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		ipStr := a.String()
		if idx := strings.IndexByte(ipStr, '/'); idx != -1 {
			ipStr = ipStr[:idx]
		}
		if ip := net.ParseIP(ipStr); ip != nil {
			existing[ip.String()] = struct{}{}
		}
	}

	for _, ip := range p.addrs {
		normalized := ip.String()
		if _, ok := existing[normalized]; ok {
			log.Infow("egress address already assigned", "addr", normalized, "iface", iface)
			continue
		}

		mask := "/32"
		if ip.To4() == nil {
			mask = "/128"
		}
		addr := normalized + mask
		cmd := exec.Command("ip", "addr", "add", addr, "dev", iface)
		output, err := cmd.CombinedOutput()
		if err != nil {
			if strings.Contains(string(output), "RTNETLINK answers: File exists") {
				log.Infow("egress address already exists (concurrent add)", "addr", normalized, "iface", iface)
				continue
			}
			return fmt.Errorf("egress: ip addr add %s dev %s: %s: %w", addr, iface, strings.TrimSpace(string(output)), err)
		}
		log.Infow("egress address added", "addr", addr, "iface", iface)
	}

	return nil
}
