// Package guard screens what the network-facing surfaces accept: capture
// targets that would reach private or loopback addresses, and baseline
// names that are unsafe as archive keys or URL path segments.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MaxNameLen bounds baseline names.
const MaxNameLen = 256

var (
	// ErrPrivateTarget is returned when a URL resolves to a private,
	// loopback or link-local address.
	ErrPrivateTarget = errors.New("guard: target is a private or loopback address")
	// ErrScheme is returned for URLs that are neither http nor https.
	ErrScheme = errors.New("guard: only http and https targets are allowed")
	// ErrName is returned for unusable baseline names.
	ErrName = errors.New("guard: invalid name")
)

// Resolver looks up the addresses of a host.
type Resolver func(ctx context.Context, host string) ([]string, error)

// Guard checks capture targets and names.
type Guard struct {
	allowPrivate bool
	resolve      Resolver
}

// Option configures a Guard.
type Option func(*Guard)

// WithAllowPrivate disables the private address check, for deployments
// that test intranet or localhost sites.
func WithAllowPrivate(allow bool) Option {
	return func(g *Guard) { g.allowPrivate = allow }
}

// WithResolver replaces DNS resolution.
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolve = r }
}

// New returns a Guard using the default DNS resolver.
func New(opts ...Option) *Guard {
	g := &Guard{resolve: net.DefaultResolver.LookupHost}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CheckURL rejects non-http(s) URLs and, unless private targets are
// allowed, URLs whose host is or resolves to a private address.
// Resolution failures pass: the capture reports them as network errors.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("guard: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("guard: url has no host")
	}
	if g.allowPrivate {
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrPrivateTarget
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return ErrPrivateTarget
		}
		return nil
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivate(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateTarget, host, a)
		}
	}
	return nil
}

// CheckName accepts letters, digits, '_', '-', '.' and '/' separated
// segments. Empty segments and ".." are rejected.
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrName)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrName, MaxNameLen)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: bad segment in %q", ErrName, name)
		}
		for _, r := range seg {
			if !nameChar(r) {
				return fmt.Errorf("%w: character %q", ErrName, r)
			}
		}
	}
	return nil
}

func nameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"fc00::/7",
	} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
