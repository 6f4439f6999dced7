// internal/response/fingerprint.go
package response

import (
	"sort"
	"strconv"
	"strings"
)

// SocketState describes the transport condition observed after a symbol was sent.
type SocketState string

const (
	SocketUp              SocketState = "UP"
	SocketClosed          SocketState = "CLOSED"
	SocketTimeout         SocketState = "TIMEOUT"
	SocketDataAvailable   SocketState = "DATA_AVAILABLE"
	SocketPeerWriteClosed SocketState = "PEER_WRITE_CLOSED"
	SocketException       SocketState = "SOCKET_EXCEPTION"
)

// IsClosed reports whether the peer is no longer reachable on this connection.
func (s SocketState) IsClosed() bool {
	return s == SocketClosed || s == SocketPeerWriteClosed || s == SocketException
}

// MessageType is the protocol message class received from the peer.
type MessageType string

const (
	MsgServerHello       MessageType = "SERVER_HELLO"
	MsgCertificate       MessageType = "CERTIFICATE"
	MsgServerKeyExchange MessageType = "SERVER_KEY_EXCHANGE"
	MsgCertificateReq    MessageType = "CERTIFICATE_REQUEST"
	MsgServerHelloDone   MessageType = "SERVER_HELLO_DONE"
	MsgChangeCipherSpec  MessageType = "CCS"
	MsgFinished          MessageType = "FINISHED"
	MsgApplicationData   MessageType = "APPLICATION_DATA"
	MsgHeartbeat         MessageType = "HEARTBEAT"
	MsgAlert             MessageType = "ALERT"
	MsgNewSessionTicket  MessageType = "NEW_SESSION_TICKET"
	MsgHelloRequest      MessageType = "HELLO_REQUEST"
	MsgUnknown           MessageType = "UNKNOWN"
)

// Message is a received protocol message reduced to its type and the fields that are
// relevant for behavioral comparison (e.g. alert level/description).
type Message struct {
	Type   MessageType       `yaml:"type" json:"type"`
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Msg is a shorthand constructor.
func Msg(t MessageType, kv ...string) Message {
	m := Message{Type: t}
	if len(kv) > 1 {
		m.Fields = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			m.Fields[kv[i]] = kv[i+1]
		}
	}
	return m
}

func (m Message) equal(o Message) bool {
	if m.Type != o.Type || len(m.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range m.Fields {
		if ov, ok := o.Fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (m Message) key() string {
	if len(m.Fields) == 0 {
		return string(m.Type)
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(m.Type))
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.Fields[k])
	}
	b.WriteByte(')')
	return b.String()
}

// Record is a low-level record as seen on the wire.
type Record struct {
	ContentType string `yaml:"content_type" json:"content_type"`
	Length      int    `yaml:"length" json:"length"`
}

// Fingerprint is everything observed in response to one input symbol.
type Fingerprint struct {
	Messages    []Message   `yaml:"messages,omitempty" json:"messages,omitempty"`
	Records     []Record    `yaml:"records,omitempty" json:"records,omitempty"`
	SocketState SocketState `yaml:"socket_state" json:"socket_state"`
}

// MessageTypes returns the ordered message classes.
func (f Fingerprint) MessageTypes() []MessageType {
	out := make([]MessageType, len(f.Messages))
	for i, m := range f.Messages {
		out[i] = m.Type
	}
	return out
}

// Contains reports whether a message of the given type was received.
func (f Fingerprint) Contains(t MessageType) bool {
	for _, m := range f.Messages {
		if m.Type == t {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no message was received.
func (f Fingerprint) IsEmpty() bool { return len(f.Messages) == 0 }

// Equal is structural equality over message types, critical fields and socket state.
// Records are deliberately excluded; use CheckEquality for record-level comparison.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.SocketState != o.SocketState || len(f.Messages) != len(o.Messages) {
		return false
	}
	for i := range f.Messages {
		if !f.Messages[i].equal(o.Messages[i]) {
			return false
		}
	}
	return true
}

// Key is a stable textual identity consistent with Equal.
func (f Fingerprint) Key() string {
	var b strings.Builder
	for i, m := range f.Messages {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(m.key())
	}
	b.WriteByte('|')
	b.WriteString(string(f.SocketState))
	return b.String()
}

// String renders the fingerprint in a compact, human readable form.
func (f Fingerprint) String() string {
	if len(f.Messages) == 0 {
		return "<empty>|" + string(f.SocketState)
	}
	return f.Key()
}

func recordsKey(rs []Record) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.ContentType + ":" + strconv.Itoa(r.Length)
	}
	return strings.Join(parts, ",")
}
