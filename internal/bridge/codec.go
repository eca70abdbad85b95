// Package bridge speaks Chrome native messaging over stdio: each message is
// a 4-byte little-endian length prefix followed by that many bytes of JSON.
// It carries the request/response envelope between the extension and the
// agent, plus fire-and-forget event pushes.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// maxInboundBytes bounds a single message from the extension.
	maxInboundBytes = 8 << 20
	// maxOutboundBytes is Chrome's documented limit for host-to-extension
	// messages.
	maxOutboundBytes = 1 << 20
)

var errMessageTooLarge = errors.New("bridge: message too large")

// ReadMessage reads one length-prefixed message. io.EOF on a clean stream
// end means the browser closed the port.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n == 0 {
		return nil, errors.New("bridge: empty message")
	}
	if n > maxInboundBytes {
		return nil, fmt.Errorf("%w: %d bytes", errMessageTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		// A short body after a full header is a framing error, not EOF.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("bridge: truncated message: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes one length-prefixed message.
func WriteMessage(w io.Writer, b []byte) error {
	if len(b) == 0 {
		return errors.New("bridge: empty message")
	}
	if len(b) > maxOutboundBytes {
		return fmt.Errorf("%w: %d bytes", errMessageTooLarge, len(b))
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
