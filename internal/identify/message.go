package identify

import (
	"bytes"
	"errors"

	"github.com/multiformats/go-varint"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// ErrInvalidMessage is returned when a wire message is malformed.
var ErrInvalidMessage = errors.New("identify: invalid message")

// wire field numbers of this module's own identify encoding; only
// fieldSignedPeerRecord matches the libp2p identify.proto number.
const (
	fieldProtocolVersion  = 1
	fieldAgentVersion     = 2
	fieldPublicKey        = 3
	fieldListenAddrs      = 4
	fieldObservedAddr     = 5
	fieldProtocols        = 6
	fieldSignedPeerRecord = 8
)

const wireTypeLengthDelimited = 2

// Message is the identify/identify-push payload. Every field is
// optional; an absent field is simply never written.
type Message struct {
	ProtocolVersion  string
	AgentVersion     string
	PublicKey        []byte
	ListenAddrs      [][]byte
	ObservedAddr     []byte
	Protocols        []string
	SignedPeerRecord []byte
}

func appendTag(buf []byte, fieldNum int, wireType int) []byte {
	return append(buf, varint.ToUvarint(uint64(fieldNum<<3|wireType))...)
}

func appendBytesField(buf []byte, fieldNum int, v []byte) []byte {
	if len(v) == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireTypeLengthDelimited)
	buf = append(buf, varint.ToUvarint(uint64(len(v)))...)
	return append(buf, v...)
}

func appendStringField(buf []byte, fieldNum int, v string) []byte {
	if v == "" {
		return buf
	}
	return appendBytesField(buf, fieldNum, []byte(v))
}

// Marshal encodes m in hand-rolled length-delimited wire format (no
// protobuf codegen): present fields only, repeated fields written as
// one tag/length/value triple per element.
func (m *Message) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = appendStringField(buf, fieldProtocolVersion, m.ProtocolVersion)
	buf = appendStringField(buf, fieldAgentVersion, m.AgentVersion)
	buf = appendBytesField(buf, fieldPublicKey, m.PublicKey)
	for _, a := range m.ListenAddrs {
		buf = appendBytesField(buf, fieldListenAddrs, a)
	}
	buf = appendBytesField(buf, fieldObservedAddr, m.ObservedAddr)
	for _, p := range m.Protocols {
		buf = appendStringField(buf, fieldProtocols, p)
	}
	buf = appendBytesField(buf, fieldSignedPeerRecord, m.SignedPeerRecord)
	return buf, nil
}

// Unmarshal decodes data written by Marshal. Unknown field numbers are
// silently skipped for forward compatibility.
func (m *Message) Unmarshal(data []byte) error {
	for len(data) > 0 {
		tag, n, err := varint.FromUvarint(data)
		if err != nil {
			return ErrInvalidMessage
		}
		data = data[n:]

		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x07)
		if wireType != wireTypeLengthDelimited {
			return ErrInvalidMessage
		}

		length, n, err := varint.FromUvarint(data)
		if err != nil {
			return ErrInvalidMessage
		}
		data = data[n:]
		if uint64(len(data)) < length {
			return ErrInvalidMessage
		}
		value := data[:length]
		data = data[length:]

		switch fieldNum {
		case fieldProtocolVersion:
			m.ProtocolVersion = string(value)
		case fieldAgentVersion:
			m.AgentVersion = string(value)
		case fieldPublicKey:
			m.PublicKey = append([]byte(nil), value...)
		case fieldListenAddrs:
			m.ListenAddrs = append(m.ListenAddrs, append([]byte(nil), value...))
		case fieldObservedAddr:
			m.ObservedAddr = append([]byte(nil), value...)
		case fieldProtocols:
			m.Protocols = append(m.Protocols, string(value))
		case fieldSignedPeerRecord:
			m.SignedPeerRecord = append([]byte(nil), value...)
		}
	}
	return nil
}

// protocolIDs converts the wire string list to typed ProtocolIDs.
func (m *Message) protocolIDs() []types.ProtocolID {
	out := make([]types.ProtocolID, len(m.Protocols))
	for i, p := range m.Protocols {
		out[i] = types.ProtocolID(p)
	}
	return out
}

// equalIgnoringSequence reports whether two messages carry the same
// content, ignoring nothing sequence-related (Message itself carries
// no sequence field; Snapshot tracks that separately).
func (m *Message) equalIgnoringSequence(o *Message) bool {
	if m.ProtocolVersion != o.ProtocolVersion || m.AgentVersion != o.AgentVersion {
		return false
	}
	if !bytes.Equal(m.PublicKey, o.PublicKey) {
		return false
	}
	if !bytes.Equal(m.ObservedAddr, o.ObservedAddr) {
		return false
	}
	if !bytes.Equal(m.SignedPeerRecord, o.SignedPeerRecord) {
		return false
	}
	if len(m.ListenAddrs) != len(o.ListenAddrs) {
		return false
	}
	for i := range m.ListenAddrs {
		if !bytes.Equal(m.ListenAddrs[i], o.ListenAddrs[i]) {
			return false
		}
	}
	if len(m.Protocols) != len(o.Protocols) {
		return false
	}
	for i := range m.Protocols {
		if m.Protocols[i] != o.Protocols[i] {
			return false
		}
	}
	return true
}
