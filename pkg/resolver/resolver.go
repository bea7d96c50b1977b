// Package resolver provides bootstrap DNS resolution for the DoH
// endpoint itself. The engine audits delegation through a DoH provider;
// reaching that provider must not depend on the resolver under audit,
// so the endpoint hostname is resolved against explicitly configured
// bootstrap servers instead of the host resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"zonegate/pkg/logging"
)

// Bootstrap resolves hostnames using configured bootstrap DNS servers
// instead of the system's default resolver (/etc/resolv.conf).
type Bootstrap struct {
	logger  *logging.Logger
	dialer  *net.Dialer
	servers []string
	strict  bool // when true, never fall back to system resolver
}

// New creates a bootstrap resolver using the specified DNS servers.
// If servers is empty or nil, it falls back to the system's default
// resolver.
func New(servers []string, logger *logging.Logger) *Bootstrap {
	return newWithOptions(servers, logger, false)
}

// NewStrict creates a resolver that will NOT fall back to the system
// resolver when the bootstrap servers fail.
func NewStrict(servers []string, logger *logging.Logger) *Bootstrap {
	return newWithOptions(servers, logger, true)
}

func newWithOptions(servers []string, logger *logging.Logger, strict bool) *Bootstrap {
	if len(servers) == 0 {
		logger.Warn("No bootstrap DNS servers configured, using system default resolver")
	} else {
		logger.Info("Bootstrap resolver initialized", "servers", servers, "strict", strict)
	}

	return &Bootstrap{
		servers: servers,
		logger:  logger,
		strict:  strict,
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// LookupIP resolves a hostname to IP addresses using the bootstrap
// servers, trying each server until one succeeds or all fail.
func (b *Bootstrap) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if len(b.servers) == 0 {
		return net.DefaultResolver.LookupIP(ctx, network, host)
	}

	var lastErr error
	for idx, server := range b.servers {
		netResolver := &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return b.dialer.DialContext(ctx, "udp", server)
			},
		}

		ips, err := netResolver.LookupIP(ctx, network, host)
		if err != nil {
			lastErr = err
			b.logger.Warn("Bootstrap resolution attempt failed",
				"host", host,
				"server", server,
				"attempt", idx+1,
				"error", err,
			)
			continue
		}

		b.logger.Debug("Bootstrap resolution successful",
			"host", host,
			"server", server,
			"ips", ips,
		)
		return ips, nil
	}

	if b.strict {
		return nil, fmt.Errorf("failed to resolve %s via bootstrap servers (strict mode): %w", host, lastErr)
	}

	b.logger.Warn("All bootstrap DNS servers failed, falling back to system resolver",
		"host", host,
		"attempts", len(b.servers),
		"error", lastErr,
	)
	ips, err := net.DefaultResolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s via bootstrap servers: %w", host, errors.Join(lastErr, err))
	}
	return ips, nil
}

// DialContext dials a network address, resolving hostnames through the
// bootstrap servers. Compatible with http.Transport.DialContext.
func (b *Bootstrap) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}

	// Literal IPs skip resolution
	if net.ParseIP(host) != nil {
		return b.dialer.DialContext(ctx, network, addr)
	}

	ips, err := b.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %s", host)
	}

	resolvedAddr := net.JoinHostPort(ips[0].String(), port)
	return b.dialer.DialContext(ctx, network, resolvedAddr)
}

// Servers returns the configured bootstrap DNS servers
func (b *Bootstrap) Servers() []string {
	return b.servers
}
