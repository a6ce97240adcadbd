package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// forwardDialer adapts a Dialer to the proxy package's Dialer and
// ContextDialer interfaces.
type forwardDialer struct {
	d Dialer
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.d.DialContext(context.Background(), network, addr)
}

func (f forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f.d.DialContext(ctx, network, addr)
}

func dialVia(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return d.Dial(network, addr)
}

func init() {
	proxy.RegisterDialerType("socks4", newSOCKS4)
	proxy.RegisterDialerType("socks4a", newSOCKS4)
	proxy.RegisterDialerType("http", newHTTPConnect)
}

const (
	socks4Version        = 0x04
	socks4CommandConnect = 0x01
	socks4Null           = 0x00
	socks4ReplyVersion   = 0x00
	socks4Granted        = 0x5a
)

// socks4Dialer speaks SOCKS4, switching to SOCKS4a for domain destinations.
type socks4Dialer struct {
	hostPort string
	userID   string
	forward  proxy.Dialer
}

func newSOCKS4(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	if forward == nil {
		forward = proxy.Direct
	}
	d := &socks4Dialer{hostPort: u.Host, forward: forward}
	if u.User != nil {
		d.userID = u.User.Username()
	}
	return d, nil
}

func (s *socks4Dialer) Dial(network, addr string) (net.Conn, error) {
	return s.DialContext(context.Background(), network, addr)
}

func (s *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("socks4: unsupported network %q", network)
	}
	hostStr, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("socks4: bad destination: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks4: bad destination port: %w", err)
	}

	domain := ""
	ip := net.ParseIP(hostStr)
	if ip == nil {
		// SOCKS4a: invalid DSTIP 0.0.0.x followed by the domain name.
		ip = net.IPv4(0, 0, 0, 1)
		domain = hostStr
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.New("socks4: destination is not IPv4")
	}

	c, err := dialVia(ctx, s.forward, "tcp", s.hostPort)
	if err != nil {
		return nil, fmt.Errorf("socks4: dial proxy: %w", err)
	}
	stop := watchContext(ctx, c)
	defer stop()

	req := make([]byte, 0, 10+len(s.userID)+len(domain))
	req = append(req, socks4Version, socks4CommandConnect, byte(port>>8), byte(port))
	req = append(req, ip4...)
	req = append(req, s.userID...)
	req = append(req, socks4Null)
	if domain != "" {
		req = append(req, domain...)
		req = append(req, socks4Null)
	}
	if _, err := c.Write(req); err != nil {
		c.Close()
		return nil, fmt.Errorf("socks4: write request: %w", err)
	}

	var resp [8]byte
	if _, err := io.ReadFull(c, resp[:]); err != nil {
		c.Close()
		return nil, fmt.Errorf("socks4: read reply: %w", err)
	}
	if resp[0] != socks4ReplyVersion {
		c.Close()
		return nil, fmt.Errorf("socks4: invalid reply version %#x", resp[0])
	}
	if resp[1] != socks4Granted {
		c.Close()
		return nil, fmt.Errorf("socks4: request rejected (%#x)", resp[1])
	}
	return c, nil
}

// httpConnectDialer opens a CONNECT tunnel through an HTTP proxy.
type httpConnectDialer struct {
	hostPort string
	forward  proxy.Dialer
}

func newHTTPConnect(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	if forward == nil {
		forward = proxy.Direct
	}
	return &httpConnectDialer{hostPort: u.Host, forward: forward}, nil
}

func (h *httpConnectDialer) Dial(network, addr string) (net.Conn, error) {
	return h.DialContext(context.Background(), network, addr)
}

func (h *httpConnectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	c, err := dialVia(ctx, h.forward, network, h.hostPort)
	if err != nil {
		return nil, fmt.Errorf("http connect: dial proxy: %w", err)
	}
	stop := watchContext(ctx, c)
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if err := req.Write(c); err != nil {
		c.Close()
		return nil, fmt.Errorf("http connect: write request: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("http connect: read response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.Close()
		return nil, fmt.Errorf("http connect: proxy returned %s", resp.Status)
	}
	if br.Buffered() > 0 {
		c.Close()
		return nil, errors.New("http connect: unexpected data after response")
	}
	return c, nil
}

// watchContext applies ctx's deadline to c for the duration of a handshake
// and unblocks it when ctx is cancelled. The returned func clears both.
func watchContext(ctx context.Context, c net.Conn) func() {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = c.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
		_ = c.SetDeadline(time.Time{})
	}
}
