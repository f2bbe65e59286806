package crypto

import "errors"

// MarshalEnvelope encodes an Envelope as: marshalled public key (LP),
// payload type (LP), payload (LP), signature (LP). Internal wire form
// only, used by the peerstore to persist certified records.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	pubBytes, err := MarshalPublicKey(e.PublicKey)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = appendLP(buf, pubBytes)
	buf = appendLP(buf, []byte(e.PayloadType))
	buf = appendLP(buf, e.Payload)
	buf = appendLP(buf, e.Signature)
	return buf, nil
}

// UnmarshalEnvelope reverses MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	pubBytes, rest, err := readLP(data)
	if err != nil {
		return nil, err
	}
	pub, err := UnmarshalPublicKeyBytes(pubBytes)
	if err != nil {
		return nil, err
	}
	typeBytes, rest, err := readLP(rest)
	if err != nil {
		return nil, err
	}
	payload, rest, err := readLP(rest)
	if err != nil {
		return nil, err
	}
	sig, _, err := readLP(rest)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, errors.New("crypto: envelope missing public key")
	}
	return &Envelope{
		PublicKey:   pub,
		PayloadType: string(typeBytes),
		Payload:     payload,
		Signature:   sig,
	}, nil
}
