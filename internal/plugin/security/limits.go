package security

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
)

// NetworkPolicy bounds what a plugin holding network.access may reach.
type NetworkPolicy struct {
	// RequestsPerSecond is the sustained request rate. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once.
	Burst int

	// Timeout caps the duration of a single request.
	Timeout time.Duration

	// AllowedHosts, if non-empty, restricts requests to matching hosts.
	// Patterns may use a leading wildcard, e.g. "*.example.com".
	AllowedHosts []string

	// BlockedHosts are always rejected, even when allowed.
	BlockedHosts []string
}

// DefaultNetworkPolicy returns sensible default limits.
func DefaultNetworkPolicy() NetworkPolicy {
	return NetworkPolicy{
		RequestsPerSecond: 10,
		Burst:             5,
		Timeout:           30 * time.Second,
	}
}

// NetworkGuard enforces a NetworkPolicy for one plugin.
type NetworkGuard struct {
	mu      sync.RWMutex
	policy  NetworkPolicy
	allowed []string
	blocked []string
	limiter *rate.Limiter
}

// NewNetworkGuard creates a guard for policy.
func NewNetworkGuard(policy NetworkPolicy) *NetworkGuard {
	g := &NetworkGuard{}
	g.SetPolicy(policy)
	return g
}

// SetPolicy replaces the policy. Host patterns are normalized to lowercase.
func (g *NetworkGuard) SetPolicy(policy NetworkPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.policy = policy
	g.allowed = lowerAll(policy.AllowedHosts)
	g.blocked = lowerAll(policy.BlockedHosts)

	if policy.RequestsPerSecond <= 0 {
		g.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := policy.Burst
	if burst < 1 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), burst)
}

// Policy returns the current policy.
func (g *NetworkGuard) Policy() NetworkPolicy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Timeout returns the per-request timeout, zero meaning none.
func (g *NetworkGuard) Timeout() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy.Timeout
}

// CheckHost checks if a request to host (optionally host:port) is permitted.
func (g *NetworkGuard) CheckHost(host string) error {
	hostOnly := strings.ToLower(extractHost(host))
	if hostOnly == "" {
		return perr.Runtime("request has no host")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Check blocked hosts first
	for _, blocked := range g.blocked {
		if matchHost(hostOnly, blocked) {
			return perr.Runtime("host is blocked: %s", hostOnly)
		}
	}

	if len(g.allowed) > 0 {
		for _, allowed := range g.allowed {
			if matchHost(hostOnly, allowed) {
				return nil
			}
		}
		return perr.Runtime("host not in allowed list: %s", hostOnly)
	}
	return nil
}

// Allow reports whether a request may start now without waiting.
func (g *NetworkGuard) Allow() bool {
	g.mu.RLock()
	l := g.limiter
	g.mu.RUnlock()
	return l.Allow()
}

// Wait blocks until the rate limiter admits a request or ctx is done.
func (g *NetworkGuard) Wait(ctx context.Context) error {
	g.mu.RLock()
	l := g.limiter
	g.mu.RUnlock()
	if err := l.Wait(ctx); err != nil {
		return perr.WrapRuntime(err, "rate limited")
	}
	return nil
}

// extractHost extracts the host from a host:port string.
// Handles IPv6 addresses like [::1]:8080 and regular host:port.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}

// matchHost checks if a host matches a pattern (case-insensitive).
// Supports wildcard matching (e.g., "*.example.com").
func matchHost(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
