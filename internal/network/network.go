// Package network holds TCP-level plumbing shared by the accept and dial
// paths: connection tuning and outbound dialing with a bounded timeout.
package network

import (
	"log/slog"
	"net"
	"time"

	"meshchat/internal/errors"
)

const (
	keepAlivePeriod = 30 * time.Second
	tcpBufferSize   = 256 * 1024
)

// Dial opens an outbound TCP connection with a bounded timeout and applies
// the standard tuning. Failures are reported as network errors; the caller
// treats them as non-fatal.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.NewNetworkError("dial", addr, err)
	}

	if err := Tune(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Tune applies TCP optimizations to a connection: keepalive so the kernel
// notices dead links, NoDelay because frames are small, larger buffers for
// file chunks. Non-TCP connections (pipes in tests) pass through untouched.
func Tune(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil
	}

	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	if err := tcpConn.SetReadBuffer(tcpBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(tcpBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}
