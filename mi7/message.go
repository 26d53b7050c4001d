package mi7

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is the unit exchanged through a queue.
type Message struct {
	// ID identifies the message. A zero ID is replaced on receive by the
	// sequence number the queue assigned to the slot.
	ID uint64

	// Data is the application payload, opaque to the queue.
	Data []byte

	// Timestamp is the creation time in whole seconds since the epoch.
	Timestamp int64
}

// NewMessage returns a message carrying data, stamped with the current time.
func NewMessage(data []byte) *Message {
	return &Message{Data: data, Timestamp: time.Now().Unix()}
}

// NewMessageID is NewMessage with a caller-chosen id.
func NewMessageID(id uint64, data []byte) *Message {
	m := NewMessage(data)
	m.ID = id
	return m
}

// Time returns the timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// Codec turns messages into slot payloads and back.
type Codec interface {
	// Append appends the encoding of m to b.
	Append(b []byte, m *Message) ([]byte, error)

	// Decode parses b into m. m must not keep a reference to b.
	Decode(b []byte, m *Message) error
}

// ProtoCodec encodes a Message with the protobuf wire format:
// field 1 id (varint), field 2 data (bytes), field 3 timestamp (zigzag
// varint). Zero values are omitted.
type ProtoCodec struct{}

const (
	fieldID        protowire.Number = 1
	fieldData      protowire.Number = 2
	fieldTimestamp protowire.Number = 3
)

var errNilMessage = errors.New("nil message")

// Append implements Codec.
func (ProtoCodec) Append(b []byte, m *Message) ([]byte, error) {
	if m == nil {
		return b, errNilMessage
	}
	if m.ID != 0 {
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ID)
	}
	if len(m.Data) != 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Timestamp))
	}
	return b, nil
}

// Decode implements Codec. Unknown fields are skipped.
func (ProtoCodec) Decode(b []byte, m *Message) error {
	*m = Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldID && typ == protowire.VarintType:
			m.ID, n = protowire.ConsumeVarint(b)
		case num == fieldData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				m.Data = append([]byte(nil), v...)
			}
		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.Timestamp = protowire.DecodeZigZag(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
