package oracle

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

const vsockScheme = "vsock://"

// Dialer opens a connection to an oracle server.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer dials addr over TCP.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// VsockDialer dials an enclave at context id cid.
func VsockDialer(cid, port uint32) Dialer {
	return func(context.Context) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}
}

// ParseDialer accepts "vsock://<cid>:<port>" or a TCP "host:port".
func ParseDialer(addr string) (Dialer, error) {
	if !strings.HasPrefix(addr, vsockScheme) {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid oracle address %q: %w", addr, err)
		}
		return TCPDialer(addr), nil
	}

	cid, port, err := parseVsock(strings.TrimPrefix(addr, vsockScheme))
	if err != nil {
		return nil, fmt.Errorf("invalid oracle address %q: %w", addr, err)
	}
	return VsockDialer(cid, port), nil
}

// Listen accepts "vsock://:<port>" (or "vsock://<cid>:<port>", cid ignored) or a TCP "host:port".
func Listen(addr string) (net.Listener, error) {
	if !strings.HasPrefix(addr, vsockScheme) {
		return net.Listen("tcp", addr)
	}

	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(addr, vsockScheme))
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid vsock port %q: %w", portStr, err)
	}

	listener, err := vsock.Listen(uint32(port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return listener, nil
}

func parseVsock(hostport string) (uint32, uint32, error) {
	cidStr, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return 0, 0, err
	}
	cid, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid context id %q", cidStr)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", portStr)
	}
	return uint32(cid), uint32(port), nil
}
