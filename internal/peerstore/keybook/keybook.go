// Package keybook implements the peerstore's KeyBook contract: per-peer
// public/private identity storage, with private keys optionally
// encrypted at rest via PBKDF2-derived AES-GCM.
package keybook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/types"
	"golang.org/x/crypto/pbkdf2"
)

var logger = log.Logger("peerstore/keybook")

const (
	pubKeyPrefix  = "/peers/keys/"
	pubKeySuffix  = "/public"
	privKeySuffix = "/private"

	minPasswordLen = 20
	minSaltBits    = 128
	minIterations  = 1000
	minKeyBits     = 112
)

// ErrBadConfig is returned by New when an encryption configuration
// violates the minimum password/salt/iteration/key-length requirements.
var ErrBadConfig = errors.New("keybook: encryption configuration below minimum security requirements")

// ErrIdentityMismatch is returned when a supplied key does not derive
// the claimed peer id.
var ErrIdentityMismatch = errors.New("keybook: key does not match peer id")

// EncryptionConfig configures private-key-at-rest encryption. A nil
// *EncryptionConfig passed to New stores private keys in plaintext.
type EncryptionConfig struct {
	Password   string
	Salt       []byte
	Iterations int
	KeyLen     int // bytes
}

func (c *EncryptionConfig) validate() error {
	if len(c.Password) < minPasswordLen {
		return fmt.Errorf("%w: password too short", ErrBadConfig)
	}
	if len(c.Salt)*8 < minSaltBits {
		return fmt.Errorf("%w: salt too short", ErrBadConfig)
	}
	if c.Iterations < minIterations {
		return fmt.Errorf("%w: iteration count too low", ErrBadConfig)
	}
	if c.KeyLen*8 < minKeyBits {
		return fmt.Errorf("%w: key length too short", ErrBadConfig)
	}
	return nil
}

func (c *EncryptionConfig) deriveKey() []byte {
	return pbkdf2.Key([]byte(c.Password), c.Salt, c.Iterations, c.KeyLen, sha256.New)
}

// KeyBook implements pkg/interfaces.KeyBook.
type KeyBook struct {
	store kv.Store
	enc   *EncryptionConfig

	mu        sync.Mutex
	aeadCache cipher.AEAD

	remoteCache *lru.Cache[types.PeerID, crypto.PublicKey]
}

// New constructs a KeyBook. enc may be nil to store private keys in
// plaintext; otherwise it must satisfy the minimum security floor.
func New(store kv.Store, enc *EncryptionConfig) (*KeyBook, error) {
	if enc != nil {
		if err := enc.validate(); err != nil {
			return nil, err
		}
	}
	cache, _ := lru.New[types.PeerID, crypto.PublicKey](256)
	return &KeyBook{store: store, enc: enc, remoteCache: cache}, nil
}

func (b *KeyBook) aead() (cipher.AEAD, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aeadCache != nil {
		return b.aeadCache, nil
	}
	block, err := aes.NewCipher(b.enc.deriveKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	b.aeadCache = gcm
	return gcm, nil
}

func (b *KeyBook) encrypt(plaintext []byte) ([]byte, error) {
	if b.enc == nil {
		return plaintext, nil
	}
	gcm, err := b.aead()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, iv, plaintext, nil)
	return append(iv, ct...), nil
}

func (b *KeyBook) decrypt(data []byte) ([]byte, error) {
	if b.enc == nil {
		return data, nil
	}
	gcm, err := b.aead()
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("keybook: ciphertext too short")
	}
	iv, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, iv, ct, nil)
}

// jitteredAuthDelay sleeps 200-1000ms to discourage timing probes on
// identity-mismatch failures, per the key-book's documented behavior.
func jitteredAuthDelay() {
	n, _ := rand.Int(rand.Reader, big.NewInt(800))
	time.Sleep(200*time.Millisecond + time.Duration(n.Int64())*time.Millisecond)
}

// AddRemoteIdentity stores pub as peer p's public key, after verifying
// it derives p.
func (b *KeyBook) AddRemoteIdentity(p types.PeerID, pub crypto.PublicKey) error {
	if !crypto.MatchesPublicKey(p, pub) {
		jitteredAuthDelay()
		return ErrIdentityMismatch
	}
	data, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return err
	}
	if err := b.store.Put(publicKey(p), data); err != nil {
		return err
	}
	b.remoteCache.Add(p, pub)
	return nil
}

// RemoteIdentity returns p's stored public key.
func (b *KeyBook) RemoteIdentity(p types.PeerID) (crypto.PublicKey, error) {
	if pub, ok := b.remoteCache.Get(p); ok {
		return pub, nil
	}
	data, err := b.store.Get(publicKey(p))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("keybook: no identity for peer %s", p.ShortString())
		}
		return nil, err
	}
	pub, err := crypto.UnmarshalPublicKeyBytes(data)
	if err != nil {
		return nil, err
	}
	b.remoteCache.Add(p, pub)
	return pub, nil
}

// AddLocalIdentity stores priv as peer p's private identity, after
// verifying it derives p. The value is encrypted at rest when this
// KeyBook was constructed with an EncryptionConfig.
func (b *KeyBook) AddLocalIdentity(p types.PeerID, priv crypto.PrivateKey) error {
	if !crypto.MatchesPublicKey(p, priv.GetPublic()) {
		jitteredAuthDelay()
		return ErrIdentityMismatch
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	enc, err := b.encrypt(raw)
	if err != nil {
		return err
	}
	return b.store.Put(privateKey(p), enc)
}

// LocalIdentity returns p's stored private identity.
func (b *KeyBook) LocalIdentity(p types.PeerID) (crypto.PrivateKey, error) {
	data, err := b.store.Get(privateKey(p))
	if err != nil {
		return nil, err
	}
	raw, err := b.decrypt(data)
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalPrivateKeyBytes(raw)
}

// RotateKeychainPass re-encrypts every stored private key under
// newPassword, atomically via a single write batch: either all records
// are rewritten or none are.
func (b *KeyBook) RotateKeychainPass(newPassword string) error {
	if b.enc == nil {
		return errors.New("keybook: no encryption configured to rotate")
	}
	newCfg := &EncryptionConfig{
		Password:   newPassword,
		Salt:       b.enc.Salt,
		Iterations: b.enc.Iterations,
		KeyLen:     b.enc.KeyLen,
	}
	if err := newCfg.validate(); err != nil {
		return err
	}
	newBook, err := New(b.store, newCfg)
	if err != nil {
		return err
	}

	batch := b.store.NewBatch()
	var rotateErr error
	err = b.store.PrefixIterate([]byte(pubKeyPrefix), func(key, value []byte) bool {
		if len(key) < len(privKeySuffix) || string(key[len(key)-len(privKeySuffix):]) != privKeySuffix {
			return true
		}
		plain, derr := b.decrypt(value)
		if derr != nil {
			rotateErr = derr
			return false
		}
		reenc, eerr := newBook.encrypt(plain)
		if eerr != nil {
			rotateErr = eerr
			return false
		}
		_ = batch.Put(key, reenc)
		return true
	})
	if err != nil {
		rotateErr = err
	}
	if rotateErr != nil {
		batch.Discard()
		return rotateErr
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	b.mu.Lock()
	b.enc = newCfg
	b.aeadCache = nil
	b.mu.Unlock()
	return nil
}

func publicKey(p types.PeerID) []byte {
	return []byte(pubKeyPrefix + p.B32String() + pubKeySuffix)
}

func privateKey(p types.PeerID) []byte {
	return []byte(pubKeyPrefix + p.B32String() + privKeySuffix)
}
