package recorder

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	socks5 "github.com/armon/go-socks5"
)

// TestUpstreamClientThroughSOCKS5 proxies an upstream request through a
// local SOCKS5 server.
func TestUpstreamClientThroughSOCKS5(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "via proxy")
	}))
	defer target.Close()

	srv, err := socks5.New(&socks5.Config{})
	if err != nil {
		t.Fatalf("socks5.New error: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer l.Close()
	go srv.Serve(l)

	client, err := NewUpstreamClient(UpstreamOptions{
		ProxyURL: "socks5://" + l.Addr().String(),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewUpstreamClient error: %v", err)
	}
	defer client.CloseIdleConnections()

	resp, err := client.Get(target.URL)
	if err != nil {
		t.Fatalf("Get through proxy error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	if string(body) != "via proxy" {
		t.Errorf("body mismatch: got %q", body)
	}
}

func TestUpstreamClientBadProxyURL(t *testing.T) {
	if _, err := NewUpstreamClient(UpstreamOptions{ProxyURL: "::bad::"}); err == nil {
		t.Error("expected error for unparsable proxy url")
	}
	if _, err := NewUpstreamClient(UpstreamOptions{ProxyURL: "gopher://example.com"}); err == nil {
		t.Error("expected error for unsupported proxy scheme")
	}
}

// TestResolveIPLiteralAndCache checks the resolver fast paths that avoid a
// DNS round-trip.
func TestResolveIPLiteralAndCache(t *testing.T) {
	// 192.0.2.1 is TEST-NET; nothing listens there, so any query would fail.
	d, err := newUpstreamDialer(UpstreamOptions{DNSServers: []string{"192.0.2.1"}})
	if err != nil {
		t.Fatalf("newUpstreamDialer error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ip, err := d.resolve(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("resolve literal error: %v", err)
	}
	if ip.String() != "127.0.0.1" {
		t.Errorf("literal resolve mismatch: %v", ip)
	}

	d.cache["cached.example"] = dnsEntry{ip: net.ParseIP("10.1.2.3"), expires: time.Now().Add(time.Minute)}
	ip, err = d.resolve(ctx, "cached.example")
	if err != nil {
		t.Fatalf("resolve cached error: %v", err)
	}
	if ip.String() != "10.1.2.3" {
		t.Errorf("cached resolve mismatch: %v", ip)
	}
}
