// Package types defines the core value types shared across the network
// stack: peer identifiers, protocol identifiers, and multiaddresses.
package types

import (
	"encoding/base32"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

// PeerID is the opaque content identifier of a peer, derived from its
// public key. Equality is by raw bytes. A PeerID may be 32-64 bytes; no
// particular derivation scheme is imposed here since concrete signature
// primitives are out of scope (see pkg/crypto).
type PeerID string

// EmptyPeerID is the zero value used where "no peer" must be represented.
const EmptyPeerID PeerID = ""

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptyPeerID is returned when a PeerID is required but absent.
var ErrEmptyPeerID = errors.New("empty peer id")

// ErrInvalidPeerID is returned when a string does not decode to a peer id.
var ErrInvalidPeerID = errors.New("invalid peer id")

func (id PeerID) String() string { return string(id) }

// Bytes returns the raw identifier bytes.
func (id PeerID) Bytes() []byte { return []byte(id) }

// IsEmpty reports whether this is the zero PeerID.
func (id PeerID) IsEmpty() bool { return id == EmptyPeerID }

// ShortString renders a short form for logs: first 8 + "…" + last 4 chars
// of the base32 encoding.
func (id PeerID) ShortString() string {
	s := id.B32String()
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}

// B32String encodes the PeerID as lower-case, unpadded base32 — the
// canonical external representation.
func (id PeerID) B32String() string {
	return strings.ToLower(b32.EncodeToString(id.Bytes()))
}

// ParsePeerIDB32 parses the canonical base32-lower-no-pad representation.
func ParsePeerIDB32(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrEmptyPeerID
	}
	raw, err := b32.DecodeString(strings.ToUpper(s))
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	if len(raw) < 32 || len(raw) > 64 {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(raw), nil
}

// Base58String renders a legacy interop encoding used by tooling that
// expects libp2p-style peer id strings instead of the canonical base32 form.
func (id PeerID) Base58String() string {
	return base58.Encode(id.Bytes())
}

// ParsePeerIDBase58 parses the legacy base58 peer id representation.
func ParsePeerIDBase58(s string) (PeerID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(raw), nil
}

// Validate checks the PeerID's byte-length invariant (32-64 bytes).
func (id PeerID) Validate() error {
	if id.IsEmpty() {
		return ErrEmptyPeerID
	}
	n := len(id)
	if n < 32 || n > 64 {
		return ErrInvalidPeerID
	}
	return nil
}
