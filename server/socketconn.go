package server

import "net"

// SocketConn adapts a native-protocol net.Conn (Unix domain socket or
// TCP) to the Conn interface, framing every Response with WriteFrame
// (§6).
type SocketConn struct {
	net.Conn
}

// NewSocketConn wraps conn for use as a Conn.
func NewSocketConn(conn net.Conn) *SocketConn {
	return &SocketConn{Conn: conn}
}

// WriteResponse implements Conn.
func (c *SocketConn) WriteResponse(resp Response) error {
	return WriteFrame(c.Conn, resp)
}
