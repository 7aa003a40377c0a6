package recorder

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/proxy"
)

// DefaultUpstreamTimeout bounds the whole upstream round-trip, body included.
const DefaultUpstreamTimeout = 60 * time.Second

const defaultDNSCacheTTL = 5 * time.Minute

// UpstreamOptions configures the HTTP client used for the hop to the
// upstream fetcher.
type UpstreamOptions struct {
	// Timeout for the whole round-trip. Zero selects
	// DefaultUpstreamTimeout; negative disables the timeout.
	Timeout time.Duration

	// ProxyURL routes upstream connections through a SOCKS5 proxy
	// ("socks5://host:port"). Empty dials directly.
	ProxyURL string

	// DNSServers overrides the resolvers from /etc/resolv.conf.
	DNSServers []string

	// DNSCacheTTL bounds how long a resolved address is reused.
	DNSCacheTTL time.Duration

	DisableIPv6 bool
}

// NewUpstreamClient builds the upstream HTTP client: caching DNS resolution,
// optional SOCKS5 proxying, and no transparent decompression so the bytes we
// capture are the bytes on the wire.
func NewUpstreamClient(opts UpstreamOptions) (*http.Client, error) {
	d, err := newUpstreamDialer(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultUpstreamTimeout
	} else if timeout < 0 {
		timeout = 0
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:        d.DialContext,
			DisableCompression: true,
			ForceAttemptHTTP2:  false,
			MaxIdleConns:       32,
			IdleConnTimeout:    90 * time.Second,
		},
	}, nil
}

type dnsEntry struct {
	ip      net.IP
	expires time.Time
}

type upstreamDialer struct {
	net.Dialer

	dnsClient   *dns.Client
	servers     []string
	dnsPort     string
	ttl         time.Duration
	disableIPv6 bool

	socks proxy.ContextDialer

	mu    sync.Mutex
	cache map[string]dnsEntry
}

func newUpstreamDialer(opts UpstreamOptions) (*upstreamDialer, error) {
	d := &upstreamDialer{
		Dialer:      net.Dialer{Timeout: 10 * time.Second},
		dnsClient:   new(dns.Client),
		servers:     opts.DNSServers,
		dnsPort:     "53",
		ttl:         opts.DNSCacheTTL,
		disableIPv6: opts.DisableIPv6,
		cache:       make(map[string]dnsEntry),
	}
	if d.ttl <= 0 {
		d.ttl = defaultDNSCacheTTL
	}

	if len(d.servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err == nil && len(conf.Servers) > 0 {
			d.servers = conf.Servers
			d.dnsPort = conf.Port
		}
	}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		p, err := proxy.FromURL(u, d)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		cd, ok := p.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy %s does not support contexts", u.Scheme)
		}
		d.socks = cd
	}

	return d, nil
}

func (d *upstreamDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.socks != nil {
		// The proxy resolves names on its side.
		return d.socks.DialContext(ctx, network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ip, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return d.Dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// resolve returns an address for host, serving repeat lookups from a TTL
// cache so every proxied request does not pay a resolver round-trip.
func (d *upstreamDialer) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	d.mu.Lock()
	if entry, ok := d.cache[host]; ok && time.Now().Before(entry.expires) {
		d.mu.Unlock()
		return entry.ip, nil
	}
	d.mu.Unlock()

	if len(d.servers) == 0 {
		// No resolvers configured at all; let the stdlib try.
		addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		return addrs[0], nil
	}

	ip, err := d.lookup(ctx, host, dns.TypeA)
	if err != nil && !d.disableIPv6 {
		ip, err = d.lookup(ctx, host, dns.TypeAAAA)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	d.mu.Lock()
	d.cache[host] = dnsEntry{ip: ip, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()

	return ip, nil
}

func (d *upstreamDialer) lookup(ctx context.Context, host string, recordType uint16) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), recordType)

	var lastErr error
	for _, server := range d.servers {
		r, _, err := d.dnsClient.ExchangeContext(ctx, m, net.JoinHostPort(server, d.dnsPort))
		if err != nil {
			lastErr = err
			continue
		}
		for _, answer := range r.Answer {
			switch rr := answer.(type) {
			case *dns.A:
				return rr.A, nil
			case *dns.AAAA:
				return rr.AAAA, nil
			}
		}
		lastErr = fmt.Errorf("no answer for %s", host)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no DNS servers configured")
	}
	return nil, lastErr
}
