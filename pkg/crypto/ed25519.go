package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"io"
)

// ed25519PublicKey and ed25519PrivateKey are a concrete, stdlib-backed
// realization of PublicKey/PrivateKey. The rest of the module never
// references these types directly — they exist so tests and examples
// have a working key to drive peerstore/identify/envelope flows without
// pulling in a third-party signature scheme.
type ed25519PublicKey struct {
	k ed25519.PublicKey
}

type ed25519PrivateKey struct {
	k ed25519.PrivateKey
}

func (k *ed25519PublicKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf, nil
}

func (k *ed25519PublicKey) Type() KeyType { return KeyTypeEd25519 }

func (k *ed25519PublicKey) Equals(other Key) bool {
	ek, ok := other.(*ed25519PublicKey)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(k.k, ek.k) == 1
}

func (k *ed25519PublicKey) Verify(data, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(k.k, data, sig), nil
}

func (k *ed25519PrivateKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf, nil
}

func (k *ed25519PrivateKey) Type() KeyType { return KeyTypeEd25519 }

func (k *ed25519PrivateKey) Equals(other Key) bool {
	ek, ok := other.(*ed25519PrivateKey)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(k.k, ek.k) == 1
}

func (k *ed25519PrivateKey) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.k, data), nil
}

func (k *ed25519PrivateKey) GetPublic() PublicKey {
	return &ed25519PublicKey{k: k.k.Public().(ed25519.PublicKey)}
}

// GenerateEd25519Key produces a fresh key pair using r as randomness
// (pass crypto/rand.Reader in production, a seeded reader in tests).
func GenerateEd25519Key(r io.Reader) (PrivateKey, PublicKey, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, nil, err
	}
	sk := &ed25519PrivateKey{k: priv}
	return sk, sk.GetPublic(), nil
}

func unmarshalEd25519Public(data []byte) (PublicKey, error) {
	if len(data) != ed25519.PublicKeySize {
		return nil, ErrBadKeyType
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ed25519PublicKey{k: buf}, nil
}

func unmarshalEd25519Private(data []byte) (PrivateKey, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, ErrBadKeyType
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ed25519PrivateKey{k: buf}, nil
}

func init() {
	RegisterKeyType(KeyTypeEd25519, unmarshalEd25519Public, unmarshalEd25519Private)
}
