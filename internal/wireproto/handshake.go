package wireproto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HandshakeRequestFrame is the client-to-server handshake payload. It is
// always JSON-framed with a trailing record separator, even when the
// negotiated hub protocol is binary (spec §9, MessagePack handshake rule).
type HandshakeRequestFrame struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponseFrame is the server-to-client handshake reply: `{}` on
// success, `{"error":"..."}` on failure.
type HandshakeResponseFrame struct {
	Error string `json:"error,omitempty"`
}

// EncodeHandshake renders the handshake request for the named protocol
// (e.g. "json" or "messagepack"), terminated by the record separator.
func EncodeHandshake(protocol string) ([]byte, error) {
	body, err := json.Marshal(HandshakeRequestFrame{Protocol: protocol, Version: 1})
	if err != nil {
		return nil, fmt.Errorf("wireproto: encode handshake: %w", err)
	}
	return append(body, RecordSeparator), nil
}

// DecodeHandshake consumes the first record-separator-delimited record from
// buf as a HandshakeResponseFrame, and returns any further hub messages
// that were coalesced in the same payload along with the leftover tail.
// Coalesced messages are decoded with the given codec's record splitting
// (the handshake response itself is always JSON regardless of protocol).
func DecodeHandshake(buf []byte, codec interface {
	Decode([]byte) ([]Message, []byte, error)
}) (resp HandshakeResponseFrame, coalesced []Message, tail []byte, err error) {
	idx := bytes.IndexByte(buf, RecordSeparator)
	if idx < 0 {
		return resp, nil, buf, fmt.Errorf("wireproto: incomplete handshake frame")
	}
	record := buf[:idx]
	rest := buf[idx+1:]

	if err := json.Unmarshal(record, &resp); err != nil {
		return resp, nil, rest, fmt.Errorf("wireproto: decode handshake response: %w", err)
	}

	if len(rest) == 0 {
		return resp, nil, rest, nil
	}

	coalesced, tail, err = codec.Decode(rest)
	return resp, coalesced, tail, err
}
