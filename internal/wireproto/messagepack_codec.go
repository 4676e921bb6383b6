package wireproto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackCodec encodes and decodes hub messages as length-prefixed
// MessagePack arrays, one array per message, tag-first per the SignalR
// MessagePack hub protocol. Each message is preceded by its byte length as
// a LEB128 varint (the same length-prefixing .NET's BinaryMessageFormat
// uses), letting the adapter buffer partial reads the same way it buffers
// partial JSON records.
type MessagePackCodec struct{}

// mpInvocation/mpStreamItem/etc mirror the fixed field order the SignalR
// MessagePack profile specifies for each tag; msgpack encodes a Go struct
// tagged asArray as a plain array, so field order is wire order.
type (
	mpInvocation struct {
		_msgpack     struct{} `msgpack:",asArray"`
		Type         int
		Headers      map[string]string
		InvocationID string
		Target       string
		Arguments    []msgpack.RawMessage
		StreamIDs    []string
	}
	mpStreamItem struct {
		_msgpack     struct{} `msgpack:",asArray"`
		Type         int
		Headers      map[string]string
		InvocationID string
		Item         msgpack.RawMessage
	}
	mpCompletion struct {
		_msgpack      struct{} `msgpack:",asArray"`
		Type          int
		Headers       map[string]string
		InvocationID  string
		ResultKind    int8 // 0 = void, 1 = error, 2 = non-void result
		ErrorOrResult msgpack.RawMessage
	}
	mpStreamInvocation struct {
		_msgpack     struct{} `msgpack:",asArray"`
		Type         int
		Headers      map[string]string
		InvocationID string
		Target       string
		Arguments    []msgpack.RawMessage
		StreamIDs    []string
	}
	mpCancelInvocation struct {
		_msgpack     struct{} `msgpack:",asArray"`
		Type         int
		Headers      map[string]string
		InvocationID string
	}
	mpPing struct {
		_msgpack struct{} `msgpack:",asArray"`
		Type     int
	}
	mpClose struct {
		_msgpack       struct{} `msgpack:",asArray"`
		Type           int
		Error          string
		AllowReconnect bool
	}
	mpAckOrSequence struct {
		_msgpack   struct{} `msgpack:",asArray"`
		Type       int
		SequenceID uint64
	}
)

// Encode renders one hub message as a LEB128-length-prefixed MessagePack
// array.
func (c MessagePackCodec) Encode(m Message) ([]byte, error) {
	var body []byte
	var err error

	switch m.Type {
	case Invocation:
		body, err = msgpack.Marshal(mpInvocation{
			Type: m.Type, Headers: emptyHeaders(m.Headers), InvocationID: m.InvocationID,
			Target: m.Target, Arguments: jsonToRaw(m.Arguments), StreamIDs: m.StreamIDs,
		})
	case StreamItem:
		body, err = msgpack.Marshal(mpStreamItem{
			Type: m.Type, Headers: emptyHeaders(m.Headers), InvocationID: m.InvocationID,
			Item: jsonToRaw([]json.RawMessage{m.Item})[0],
		})
	case Completion:
		kind, payload := completionPayload(m)
		body, err = msgpack.Marshal(mpCompletion{
			Type: m.Type, Headers: emptyHeaders(m.Headers), InvocationID: m.InvocationID,
			ResultKind: kind, ErrorOrResult: payload,
		})
	case StreamInvocation:
		body, err = msgpack.Marshal(mpStreamInvocation{
			Type: m.Type, Headers: emptyHeaders(m.Headers), InvocationID: m.InvocationID,
			Target: m.Target, Arguments: jsonToRaw(m.Arguments), StreamIDs: m.StreamIDs,
		})
	case CancelInvocation:
		body, err = msgpack.Marshal(mpCancelInvocation{
			Type: m.Type, Headers: emptyHeaders(m.Headers), InvocationID: m.InvocationID,
		})
	case Ping:
		body, err = msgpack.Marshal(mpPing{Type: m.Type})
	case Close:
		body, err = msgpack.Marshal(mpClose{Type: m.Type, Error: m.Error, AllowReconnect: m.AllowReconnect})
	case Ack, Sequence:
		body, err = msgpack.Marshal(mpAckOrSequence{Type: m.Type, SequenceID: m.SequenceID})
	default:
		return nil, fmt.Errorf("wireproto: messagepack encode: unsupported tag %d", m.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("wireproto: messagepack encode: %w", err)
	}

	var out bytes.Buffer
	writeVarUint(&out, uint64(len(body)))
	out.Write(body)
	return out.Bytes(), nil
}

func emptyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func jsonToRaw(args []json.RawMessage) []msgpack.RawMessage {
	if args == nil {
		return nil
	}
	out := make([]msgpack.RawMessage, len(args))
	for i, a := range args {
		// Each argument is JSON text; decode it to a plain value so it is
		// written as the equivalent MessagePack value (the inverse of
		// rawToJSON). Invalid JSON is sent as nil.
		var v interface{}
		if err := json.Unmarshal(a, &v); err != nil {
			v = nil
		}
		encoded, err := msgpack.Marshal(v)
		if err != nil {
			encoded = nil
		}
		out[i] = encoded
	}
	return out
}

func rawToJSON(args []msgpack.RawMessage) []json.RawMessage {
	if args == nil {
		return nil
	}
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		var v interface{}
		if err := msgpack.Unmarshal(a, &v); err == nil {
			if encoded, encErr := json.Marshal(v); encErr == nil {
				out[i] = encoded
				continue
			}
		}
		out[i] = json.RawMessage("null")
	}
	return out
}

// completionPayload encodes the 3-state Completion contract (void / error /
// result) the SignalR MessagePack profile uses in place of JSON's two
// optional fields.
func completionPayload(m Message) (kind int8, payload msgpack.RawMessage) {
	if m.HasError() {
		b, _ := msgpack.Marshal(m.Error)
		return 1, b
	}
	if len(m.Result) == 0 {
		return 0, nil
	}
	var v interface{}
	if err := json.Unmarshal(m.Result, &v); err == nil {
		if b, err := msgpack.Marshal(v); err == nil {
			return 2, b
		}
	}
	return 0, nil
}

// Decode reads complete length-prefixed MessagePack messages from buf,
// returning the parsed messages and the leftover (incomplete) tail,
// mirroring JSONCodec.Decode's contract so the transport adapter can treat
// both codecs uniformly.
func (c MessagePackCodec) Decode(buf []byte) (messages []Message, tail []byte, err error) {
	for {
		n, consumed, ok := readVarUint(buf)
		if !ok {
			return messages, buf, nil
		}
		if uint64(len(buf)-consumed) < n {
			return messages, buf, nil
		}
		body := buf[consumed : consumed+int(n)]
		buf = buf[consumed+int(n):]

		msg, decErr := c.decodeOne(body)
		if decErr != nil {
			messages = append(messages, NewBindingFailure(fmt.Errorf("wireproto: messagepack decode: %w", decErr)))
			continue
		}
		messages = append(messages, msg)
	}
}

func (MessagePackCodec) decodeOne(body []byte) (Message, error) {
	var head struct {
		_msgpack struct{} `msgpack:",asArray"`
		Type     int
	}
	if err := msgpack.Unmarshal(body, &head); err != nil {
		return Message{}, err
	}

	switch head.Type {
	case Invocation:
		var v mpInvocation
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		return Message{Type: Invocation, Headers: v.Headers, InvocationID: v.InvocationID,
			Target: v.Target, Arguments: rawToJSON(v.Arguments), StreamIDs: v.StreamIDs}, nil
	case StreamItem:
		var v mpStreamItem
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		return Message{Type: StreamItem, Headers: v.Headers, InvocationID: v.InvocationID,
			Item: rawToJSON([]msgpack.RawMessage{v.Item})[0]}, nil
	case Completion:
		var v mpCompletion
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		m := Message{Type: Completion, Headers: v.Headers, InvocationID: v.InvocationID}
		switch v.ResultKind {
		case 1:
			var errMsg string
			_ = msgpack.Unmarshal(v.ErrorOrResult, &errMsg)
			m.SetError(errMsg)
		case 2:
			var val interface{}
			if err := msgpack.Unmarshal(v.ErrorOrResult, &val); err == nil {
				if encoded, err := json.Marshal(val); err == nil {
					m.Result = encoded
				}
			}
		}
		return m, nil
	case StreamInvocation:
		var v mpStreamInvocation
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		return Message{Type: StreamInvocation, Headers: v.Headers, InvocationID: v.InvocationID,
			Target: v.Target, Arguments: rawToJSON(v.Arguments), StreamIDs: v.StreamIDs}, nil
	case CancelInvocation:
		var v mpCancelInvocation
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		return Message{Type: CancelInvocation, Headers: v.Headers, InvocationID: v.InvocationID}, nil
	case Ping:
		return Message{Type: Ping}, nil
	case Close:
		var v mpClose
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		m := Message{Type: Close, AllowReconnect: v.AllowReconnect}
		if v.Error != "" {
			m.SetError(v.Error)
		}
		return m, nil
	case Ack, Sequence:
		var v mpAckOrSequence
		if err := msgpack.Unmarshal(body, &v); err != nil {
			return Message{}, err
		}
		return Message{Type: v.Type, SequenceID: v.SequenceID}, nil
	default:
		return Message{}, fmt.Errorf("unknown tag %d", head.Type)
	}
}

// writeVarUint appends n as a 7-bit-per-byte, MSB-continuation varint
// (LEB128), the length-prefix encoding .NET SignalR's binary message
// format uses ahead of each MessagePack-encoded array.
func writeVarUint(buf *bytes.Buffer, n uint64) {
	for n >= 0x80 {
		buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}
	buf.WriteByte(byte(n))
}

// readVarUint reads a LEB128 varint from the start of buf, returning the
// value, how many bytes it consumed, and whether a complete varint was
// present.
func readVarUint(buf []byte) (value uint64, consumed int, ok bool) {
	var shift uint
	for i := 0; i < len(buf) && i < 10; i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}
