package crypto

import (
	"encoding/binary"
	"errors"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// PeerRecordPayloadType identifies the envelope payload as a PeerRecord,
// analogous to libp2p's "libp2p-peer-record" envelope domain.
const PeerRecordPayloadType = "peer-record/v1"

// Marshal encodes a PeerRecord as: peer-id (len-prefixed), seq (8 BE
// bytes), address count (4 BE bytes), then each address
// (len-prefixed). This is an internal wire
// form only — not required to match any external peer-record schema.
func (r *PeerRecord) Marshal() []byte {
	var buf []byte
	buf = appendLP(buf, r.PeerID.Bytes())
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], r.Seq)
	buf = append(buf, seqBuf[:]...)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.Addrs)))
	buf = append(buf, countBuf[:]...)
	for _, a := range r.Addrs {
		buf = appendLP(buf, a)
	}
	return buf
}

// UnmarshalPeerRecord reverses Marshal.
func UnmarshalPeerRecord(data []byte) (*PeerRecord, error) {
	peerID, rest, err := readLP(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 12 {
		return nil, errors.New("crypto: truncated peer record")
	}
	seq := binary.BigEndian.Uint64(rest[:8])
	count := binary.BigEndian.Uint32(rest[8:12])
	rest = rest[12:]
	addrs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var a []byte
		a, rest, err = readLP(rest)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return &PeerRecord{PeerID: types.PeerID(peerID), Seq: seq, Addrs: addrs}, nil
}

func appendLP(buf, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}

func readLP(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errors.New("crypto: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, errors.New("crypto: truncated field")
	}
	return data[:n], data[n:], nil
}
