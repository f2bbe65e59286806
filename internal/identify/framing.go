package identify

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// Chunking constants (spec §4.4).
const (
	// LegacyIdSize is the largest single identify frame sent without
	// splitting the signed peer record into a second message.
	LegacyIdSize = 2048
	// MaxMessages bounds how many framed messages a reader will accept
	// for one identify exchange.
	MaxMessages = 10
	// SignedIdSize bounds the total bytes across all accepted frames.
	SignedIdSize = 8192
)

// writeMessage writes m as one varint-length-prefixed frame.
func writeMessage(w io.Writer, m *Message) error {
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(varint.ToUvarint(uint64(len(body)))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// writeChunked writes full as a single frame if it fits within
// LegacyIdSize and carries no signed peer record; otherwise it writes
// the body without the record as the first frame and the record alone
// as a second frame, per the chunking rule in spec §4.4.
func writeChunked(w io.Writer, full *Message) error {
	body, err := full.Marshal()
	if err != nil {
		return err
	}
	if len(body) <= LegacyIdSize && len(full.SignedPeerRecord) == 0 {
		return writeMessage(w, full)
	}

	head := *full
	head.SignedPeerRecord = nil
	if err := writeMessage(w, &head); err != nil {
		return err
	}
	if len(full.SignedPeerRecord) == 0 {
		return nil
	}
	tail := &Message{SignedPeerRecord: full.SignedPeerRecord}
	return writeMessage(w, tail)
}

// readChunked reads up to MaxMessages frames totalling at most
// SignedIdSize bytes and merges them into one Message, rejecting
// streams that exceed either bound as a protocol violation.
func readChunked(r *bufio.Reader) (*Message, error) {
	merged := &Message{}
	total := 0
	for i := 0; ; i++ {
		length, err := varint.ReadUvarint(r)
		if err != nil {
			if err == io.EOF && i > 0 {
				return merged, nil
			}
			return nil, err
		}
		if i >= MaxMessages {
			return nil, fmt.Errorf("identify: more than %d messages", MaxMessages)
		}
		total += int(length)
		if total > SignedIdSize {
			return nil, fmt.Errorf("identify: message exceeds SignedIdSize (%d > %d)", total, SignedIdSize)
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		var part Message
		if err := part.Unmarshal(frame); err != nil {
			return nil, err
		}
		mergeMessage(merged, &part)
	}
}

// mergeMessage folds src's present fields into dst, used to combine
// the body frame and the signed-peer-record frame.
func mergeMessage(dst, src *Message) {
	if src.ProtocolVersion != "" {
		dst.ProtocolVersion = src.ProtocolVersion
	}
	if src.AgentVersion != "" {
		dst.AgentVersion = src.AgentVersion
	}
	if len(src.PublicKey) > 0 {
		dst.PublicKey = src.PublicKey
	}
	if len(src.ListenAddrs) > 0 {
		dst.ListenAddrs = src.ListenAddrs
	}
	if len(src.ObservedAddr) > 0 {
		dst.ObservedAddr = src.ObservedAddr
	}
	if len(src.Protocols) > 0 {
		dst.Protocols = src.Protocols
	}
	if len(src.SignedPeerRecord) > 0 {
		dst.SignedPeerRecord = src.SignedPeerRecord
	}
}
