package crypto

import (
	"encoding/binary"
	"errors"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// envelopeDomain is prepended to the signed payload so a signature over
// a PeerRecord can never be replayed as a signature over an unrelated
// message type (domain separation).
const envelopeDomain = "meshlayer-peer-record:"

var (
	ErrInvalidSignature = errors.New("crypto: envelope signature invalid")
	ErrPayloadMismatch   = errors.New("crypto: payload type mismatch")
)

// PeerRecord binds a peer id to a sequence number and a set of addresses
// it can be reached at. Sequence must increase monotonically; consumers
// reject any record whose sequence does not exceed the last one accepted.
type PeerRecord struct {
	PeerID types.PeerID
	Seq    uint64
	Addrs  [][]byte // canonical multiaddr.Bytes() encodings
}

// Envelope is a signed, domain-separated container carrying a
// PeerRecord's serialized bytes plus the public key and signature
// needed to verify them without a side channel.
type Envelope struct {
	PublicKey   PublicKey
	PayloadType string
	Payload     []byte // serialized PeerRecord
	Signature   []byte
}

// signBytes is what gets signed: the domain prefix, the payload type,
// and the raw payload — not the public key, which is carried alongside
// for convenience but isn't itself attested by this signature.
func signBytes(payloadType string, payload []byte) []byte {
	buf := make([]byte, 0, len(envelopeDomain)+len(payloadType)+len(payload)+8)
	buf = append(buf, envelopeDomain...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payloadType)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payloadType...)
	buf = append(buf, payload...)
	return buf
}

// Seal signs payload (already serialized) under priv, producing an
// Envelope whose PublicKey is priv's public counterpart.
func Seal(priv PrivateKey, payloadType string, payload []byte) (*Envelope, error) {
	sig, err := priv.Sign(signBytes(payloadType, payload))
	if err != nil {
		return nil, err
	}
	return &Envelope{
		PublicKey:   priv.GetPublic(),
		PayloadType: payloadType,
		Payload:     payload,
		Signature:   sig,
	}, nil
}

// Open verifies the envelope's signature against its embedded public key
// and, if wantType is non-empty, checks PayloadType matches.
func (e *Envelope) Open(wantType string) error {
	if wantType != "" && e.PayloadType != wantType {
		return ErrPayloadMismatch
	}
	ok, err := e.PublicKey.Verify(signBytes(e.PayloadType, e.Payload), e.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}
