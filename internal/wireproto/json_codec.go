package wireproto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator is the byte that terminates every JSON-encoded hub
// message on the wire.
const RecordSeparator = 0x1e

// wireMessage mirrors Message's JSON shape exactly, letting json.Marshal /
// json.Unmarshal do the field-presence work that Message.hasError hides
// from its own exported tags.
type wireMessage struct {
	Type           int               `json:"type"`
	Headers        map[string]string `json:"headers,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	StreamIDs      []string          `json:"streamIds,omitempty"`
	Item           json.RawMessage   `json:"item,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          *string           `json:"error,omitempty"`
	AllowReconnect *bool             `json:"allowReconnect,omitempty"`
	SequenceID     uint64            `json:"sequenceId,omitempty"`
}

// MarshalJSON copies headers verbatim and omits absent optional fields,
// serializing Error only when SetError was called (distinguishing a void
// success from an explicit empty-string error).
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type:         m.Type,
		Headers:      m.Headers,
		InvocationID: m.InvocationID,
		Target:       m.Target,
		Arguments:    m.Arguments,
		StreamIDs:    m.StreamIDs,
		Item:         m.Item,
		Result:       m.Result,
		SequenceID:   m.SequenceID,
	}
	if m.hasError {
		w.Error = &m.Error
	}
	if m.Type == Close {
		w.AllowReconnect = &m.AllowReconnect
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		Type:         w.Type,
		Headers:      w.Headers,
		InvocationID: w.InvocationID,
		Target:       w.Target,
		Arguments:    w.Arguments,
		StreamIDs:    w.StreamIDs,
		Item:         w.Item,
		Result:       w.Result,
		SequenceID:   w.SequenceID,
	}
	if w.Error != nil {
		m.SetError(*w.Error)
	}
	if w.AllowReconnect != nil {
		m.AllowReconnect = *w.AllowReconnect
	}
	return nil
}

// JSONCodec encodes and decodes hub messages using the UTF-8 JSON + record
// separator framing (spec §4.1). It is stateless on encode and stateful on
// decode only insofar as the caller must feed it the leftover tail from a
// prior call — see Decode.
type JSONCodec struct{}

// Encode renders a single hub message as JSON terminated by the record
// separator.
func (JSONCodec) Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wireproto: encode message: %w", err)
	}
	return append(body, RecordSeparator), nil
}

// Decode splits buf on the record separator, parses each complete record as
// a Message, and returns the parsed messages plus the incomplete tail (the
// bytes after the last record separator, which the caller must prepend to
// the next buffer). A record whose fields are present but ill-typed yields
// a BindingFailure message rather than aborting the whole batch. Empty
// records are dropped.
func (JSONCodec) Decode(buf []byte) (messages []Message, tail []byte, err error) {
	for {
		idx := bytes.IndexByte(buf, RecordSeparator)
		if idx < 0 {
			tail = buf
			return messages, tail, nil
		}
		record := buf[:idx]
		buf = buf[idx+1:]
		if len(record) == 0 {
			continue
		}
		var m Message
		if decodeErr := json.Unmarshal(record, &m); decodeErr != nil {
			messages = append(messages, NewBindingFailure(fmt.Errorf("wireproto: decode message: %w", decodeErr)))
			continue
		}
		messages = append(messages, m)
	}
}
