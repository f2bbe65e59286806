package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// MarshalPublicKey encodes a public key as type-tag (1 byte) + raw bytes,
// the logical "concrete serialization" callers persist to the keybook.
func MarshalPublicKey(pub PublicKey) ([]byte, error) {
	raw, err := pub.Raw()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, byte(pub.Type()))
	out = append(out, raw...)
	return out, nil
}

// UnmarshalPublicKeyBytes reverses MarshalPublicKey.
func UnmarshalPublicKeyBytes(data []byte) (PublicKey, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("crypto: empty key bytes")
	}
	return UnmarshalPublicKey(KeyType(data[0]), data[1:])
}

// MarshalPrivateKey encodes a private key as type-tag + raw bytes.
func MarshalPrivateKey(priv PrivateKey) ([]byte, error) {
	raw, err := priv.Raw()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, byte(priv.Type()))
	out = append(out, raw...)
	return out, nil
}

// UnmarshalPrivateKeyBytes reverses MarshalPrivateKey.
func UnmarshalPrivateKeyBytes(data []byte) (PrivateKey, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("crypto: empty key bytes")
	}
	return UnmarshalPrivateKey(KeyType(data[0]), data[1:])
}

// PeerIDFromPublicKey derives a PeerID as SHA-256 of the marshalled
// public key — content-addressed and verifiable by re-deriving from any
// claimed public key.
func PeerIDFromPublicKey(pub PublicKey) (types.PeerID, error) {
	if pub == nil {
		return types.EmptyPeerID, ErrNilPublicKey
	}
	data, err := MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, err
	}
	sum := sha256.Sum256(data)
	return types.PeerID(sum[:]), nil
}

// PeerIDFromPrivateKey derives the PeerID of priv's public counterpart.
func PeerIDFromPrivateKey(priv PrivateKey) (types.PeerID, error) {
	if priv == nil {
		return types.EmptyPeerID, ErrNilPrivateKey
	}
	return PeerIDFromPublicKey(priv.GetPublic())
}

// MatchesPublicKey reports whether id is the correct derivation of pub.
func MatchesPublicKey(id types.PeerID, pub PublicKey) bool {
	want, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return false
	}
	return want == id
}
