package server

import (
	"bufio"
	"bytes"
	"io"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla websocket connection to the Conn interface,
// framing each LSP payload the same Content-Length-prefixed way the
// stdio transport does, so ParseLSPMessage sees identical input
// regardless of transport (§6).
type WSConn struct {
	socket *websocket.Conn
}

// NewWSConn wraps socket for use as a Conn.
func NewWSConn(socket *websocket.Conn) *WSConn {
	return &WSConn{socket: socket}
}

// WriteResponse implements Conn. A LanguageServerProtocolResponse is
// forwarded over the websocket and a StopResponse closes the socket;
// anything else is dropped, matching the native-protocol/LSP split in
// §6.
func (c *WSConn) WriteResponse(resp Response) error {
	switch r := resp.(type) {
	case LanguageServerProtocolResponse:
		var buf bytes.Buffer
		if err := WriteLSPMessage(&buf, r.Raw); err != nil {
			return err
		}
		return c.socket.WriteMessage(websocket.TextMessage, buf.Bytes())
	case StopResponse:
		return c.socket.Close()
	default:
		return nil
	}
}

// ReadMessage blocks for the next framed LSP message sent by the peer.
func (c *WSConn) ReadMessage() (string, error) {
	_, data, err := c.socket.ReadMessage()
	if err != nil {
		if e, ok := err.(*websocket.CloseError); ok && e.Code == websocket.CloseAbnormalClosure && e.Text == io.ErrUnexpectedEOF.Error() {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return ReadLSPMessage(bufio.NewReader(bytes.NewReader(data)))
}

// Close closes the underlying socket.
func (c *WSConn) Close() error {
	return c.socket.Close()
}
