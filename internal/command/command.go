// Package command defines the requests the entry enqueues for workers and
// their JSON encoding inside a queue message.
package command

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/gx1727/mi7soft/mi7"
)

// Kind tells a worker how to interpret a Command.
type Kind string

const (
	HTTPRequest Kind = "http_request"
	WSMessage   Kind = "ws_message"
	TCPPacket   Kind = "tcp_packet"
	UDPPacket   Kind = "udp_packet"
	MQTTPublish Kind = "mqtt_publish"
)

var kinds = map[Kind]bool{
	HTTPRequest: true,
	WSMessage:   true,
	TCPPacket:   true,
	UDPPacket:   true,
	MQTTPublish: true,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return kinds[k]
}

// Command is one unit of work. Which fields are set depends on Kind.
type Command struct {
	ID      uint64            `json:"id"`
	Kind    Kind              `json:"kind"`
	Path    string            `json:"path,omitempty"`
	Method  string            `json:"method,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Peer is the remote address for ws/tcp/udp commands.
	Peer    string `json:"peer,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// ToMessage encodes c as the data of a message carrying c.ID.
func ToMessage(c *Command) (*mi7.Message, error) {
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("unknown command kind %q", c.Kind)
	}
	b, err := sonnet.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command err:%w", err)
	}
	return mi7.NewMessageID(c.ID, b), nil
}

// FromMessage decodes the command in m. A command without an ID takes
// the message ID.
func FromMessage(m *mi7.Message) (*Command, error) {
	c := new(Command)
	if err := sonnet.Unmarshal(m.Data, c); err != nil {
		return nil, fmt.Errorf("failed to decode command in message %d err:%w", m.ID, err)
	}
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("message %d: unknown command kind %q", m.ID, c.Kind)
	}
	if c.ID == 0 {
		c.ID = m.ID
	}
	return c, nil
}
