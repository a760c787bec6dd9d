// Package security guards outbound HTTP calls against SSRF.
//
// The staff webhook URL is operator supplied. Every connection the webhook
// channel opens is checked against a blocklist of loopback, private,
// link-local (including the cloud metadata service) and reserved ranges, at
// dial time and again on every redirect.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"carewatch/internal/types"
)

// dnsTimeout bounds each resolution.
const dnsTimeout = 500 * time.Millisecond

var (
	ErrSSRFBlocked          = errors.New("ssrf: request to blocked IP range")
	ErrSSRFDNSTimeout       = errors.New("ssrf: DNS resolution timeout")
	ErrSSRFDNSFailed        = errors.New("ssrf: DNS resolution failed")
	ErrSSRFTooManyRedirects = errors.New("ssrf: too many redirects")
	ErrSSRFScheme           = errors.New("ssrf: only http and https are allowed")
)

// blockedPrefixes lists the ranges no outbound request may reach.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard resolves hosts and rejects any address inside a blocked range.
type Guard struct {
	resolver Resolver
	allow    []netip.Prefix
	dialer   *net.Dialer
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) { g.resolver = r }
}

// WithAllowedPrefixes exempts prefixes from the blocklist. Local development
// uses it to reach a webhook receiver on loopback.
func WithAllowedPrefixes(prefixes ...netip.Prefix) GuardOption {
	return func(g *Guard) { g.allow = append(g.allow, prefixes...) }
}

// NewGuard creates a Guard.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Blocked reports whether addr may not be contacted.
func (g *Guard) Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range g.allow {
		if p.Contains(addr) {
			return false
		}
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// resolve returns every address of host, failing if any one is blocked so a
// mixed answer cannot smuggle a private address past the check.
func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if g.Blocked(addr) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, addr)
		}
		return []netip.Addr{addr}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ipAddrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrSSRFDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrSSRFDNSFailed, host, err)
	}
	if len(ipAddrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrSSRFDNSFailed, host)
	}

	addrs := make([]netip.Addr, 0, len(ipAddrs))
	for _, ia := range ipAddrs {
		addr, ok := netip.AddrFromSlice(ia.IP)
		if !ok {
			return nil, fmt.Errorf("%w: host %q returned an invalid address", ErrSSRFDNSFailed, host)
		}
		if g.Blocked(addr) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrSSRFBlocked, addr.Unmap(), host)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// DialContext dials the first resolved address of addr's host after
// validating all of them. The pinned address defeats DNS rebinding between
// check and connect.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return g.dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect hook that enforces
// maxRedirects and validates each redirect target.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrSSRFTooManyRedirects, maxRedirects)
		}
		return g.checkURL(req.Context(), req.URL)
	}
}

// ValidateURL checks a configured URL before any request is made.
func (g *Guard) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: unparseable URL: %v", ErrSSRFBlocked, err)
	}
	return g.checkURL(ctx, u)
}

// Validator adapts ValidateURL to types.SSRFValidator.
func (g *Guard) Validator() types.SSRFValidator {
	return func(raw string) error {
		return g.ValidateURL(context.Background(), raw)
	}
}

func (g *Guard) checkURL(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: got %q", ErrSSRFScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: URL has no host", ErrSSRFBlocked)
	}
	_, err := g.resolve(ctx, host)
	return err
}

// NewSafeHTTPClient returns an http.Client whose every connection and
// redirect passes through g.
func NewSafeHTTPClient(g *Guard, timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}
