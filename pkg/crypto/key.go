// Package crypto defines the abstract signing surface the rest of the
// stack depends on. Concrete primitives are out of scope for this module;
// callers plug in a PrivateKey/PublicKey implementation (Ed25519, RSA,
// secp256k1, ...) and everything above — peerstore, identify, peer
// records — only ever calls Sign/Verify/Raw/Equals.
package crypto

import "errors"

// KeyType tags which concrete algorithm backs a Key, for marshalling.
type KeyType int

const (
	KeyTypeUnspecified KeyType = iota
	KeyTypeEd25519
	KeyTypeRSA
	KeyTypeSecp256k1
	KeyTypeECDSA
)

func (kt KeyType) String() string {
	switch kt {
	case KeyTypeEd25519:
		return "Ed25519"
	case KeyTypeRSA:
		return "RSA"
	case KeyTypeSecp256k1:
		return "Secp256k1"
	case KeyTypeECDSA:
		return "ECDSA"
	default:
		return "Unspecified"
	}
}

// Key is the common capability of public and private keys: a raw byte
// form and an algorithm tag.
type Key interface {
	Raw() ([]byte, error)
	Type() KeyType
	Equals(Key) bool
}

// PublicKey verifies signatures produced by its matching PrivateKey.
type PublicKey interface {
	Key
	Verify(data, sig []byte) (bool, error)
}

// PrivateKey signs data and exposes its public counterpart.
type PrivateKey interface {
	Key
	Sign(data []byte) ([]byte, error)
	GetPublic() PublicKey
}

var (
	ErrBadKeyType    = errors.New("crypto: unsupported key type")
	ErrNilPublicKey  = errors.New("crypto: nil public key")
	ErrNilPrivateKey = errors.New("crypto: nil private key")
	ErrKeyMismatch   = errors.New("crypto: public/private key do not correspond")
)

// Unmarshaller decodes a key of the type it is registered for. The
// concrete set of unmarshallers (one per KeyType) is a registry; this
// module registers only Ed25519 (ed25519.go), and any other key type is
// supplied by the embedding application.
type PublicKeyUnmarshaller func(data []byte) (PublicKey, error)
type PrivateKeyUnmarshaller func(data []byte) (PrivateKey, error)

var (
	pubUnmarshallers  = map[KeyType]PublicKeyUnmarshaller{}
	privUnmarshallers = map[KeyType]PrivateKeyUnmarshaller{}
)

// RegisterKeyType installs marshal/unmarshal support for a KeyType. Call
// this from an init() in the package providing the concrete algorithm.
func RegisterKeyType(t KeyType, pub PublicKeyUnmarshaller, priv PrivateKeyUnmarshaller) {
	pubUnmarshallers[t] = pub
	privUnmarshallers[t] = priv
}

// UnmarshalPublicKey dispatches to the unmarshaller registered for t.
func UnmarshalPublicKey(t KeyType, data []byte) (PublicKey, error) {
	fn, ok := pubUnmarshallers[t]
	if !ok {
		return nil, ErrBadKeyType
	}
	return fn(data)
}

// UnmarshalPrivateKey dispatches to the unmarshaller registered for t.
func UnmarshalPrivateKey(t KeyType, data []byte) (PrivateKey, error) {
	fn, ok := privUnmarshallers[t]
	if !ok {
		return nil, ErrBadKeyType
	}
	return fn(data)
}
