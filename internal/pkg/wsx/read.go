/*
Package wsx holds WebSocket helpers shared by the chat and signaling relays.
*/
package wsx

import (
	"io"

	"github.com/gorilla/websocket"
)

// ReadBounded reads the next message from conn, keeping at most limit bytes of it.
//
// A message longer than limit is drained from the socket and reported with oversized set and
// data nil, leaving the connection usable for the next message. err is only non-nil when the
// connection itself failed.
func ReadBounded(conn *websocket.Conn, limit int64) (messageType int, data []byte, oversized bool, err error) {
	messageType, r, err := conn.NextReader()
	if err != nil {
		return 0, nil, false, err
	}

	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return messageType, nil, false, err
	}

	if int64(len(data)) <= limit {
		return messageType, data, false, nil
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		return messageType, nil, true, err
	}
	return messageType, nil, true, nil
}
