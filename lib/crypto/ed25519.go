package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"

	"filippo.io/edwards25519"
)

const (
	Ed25519PrivKeySize   = ed25519.PrivateKeySize
	Ed25519PubKeySize    = ed25519.PublicKeySize
	Ed25519SignatureSize = ed25519.SignatureSize

	AlgorithmEd25519 = "ed25519"
)

// Private Key Below

// ED25519PrivateKey is the private key of a cryptographic key pair used in elliptic curve signing and verification, based on the Curve25519 elliptic curve
type ED25519PrivateKey struct{ ed25519.PrivateKey }

// ensure ED25519PrivateKey satisfies PrivateKeyI interface
var _ PrivateKeyI = &ED25519PrivateKey{}

// NewEd25519PrivateKey() generates a new ED25519 private key
func NewEd25519PrivateKey() (PrivateKeyI, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ED25519PrivateKey{PrivateKey: priv}, nil
}

// BytesToED25519Private() creates a new PrivateKeyI interface from ED25519 bytes
func BytesToED25519Private(bz []byte) (PrivateKeyI, error) {
	if len(bz) != Ed25519PrivKeySize {
		return nil, errors.New("wrong ed25519 private key size")
	}
	return &ED25519PrivateKey{PrivateKey: bytes.Clone(bz)}, nil
}

// String() returns the hex string representation of the private key
func (p *ED25519PrivateKey) String() string { return hex.EncodeToString(p.Bytes()) }

// Bytes() casts the private key to bytes
func (p *ED25519PrivateKey) Bytes() []byte { return p.PrivateKey }

// Sign() returns the digital signature out of an Ed25519 private key sign function given a message
func (p *ED25519PrivateKey) Sign(msg []byte) []byte { return ed25519.Sign(p.PrivateKey, msg) }

// PublicKey() returns the public key that pairs with this private key object
func (p *ED25519PrivateKey) PublicKey() PublicKeyI {
	return &ED25519PublicKey{p.PrivateKey.Public().(ed25519.PublicKey)}
}

// Equals() compares two private key objects and returns true if they are equal
func (p *ED25519PrivateKey) Equals(key PrivateKeyI) bool {
	return p.PrivateKey.Equal(ed25519.PrivateKey(key.Bytes()))
}

// MarshalJSON() implements the json.Marshaller interface for ED25519PrivateKey
func (p *ED25519PrivateKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON() implements the json.Marshaller interface for ED25519PrivateKey
func (p *ED25519PrivateKey) UnmarshalJSON(b []byte) error {
	bz, err := unmarshalHexJSON(b)
	if err != nil {
		return err
	}
	pk, err := BytesToED25519Private(bz)
	if err != nil {
		return err
	}
	*p = *pk.(*ED25519PrivateKey)
	return nil
}

// Public Key Below

// ED25519PublicKey is the public key of a cryptographic key pair used in elliptic curve signing and verification, based on the Curve25519 elliptic curve
type ED25519PublicKey struct{ ed25519.PublicKey }

// ensure the ED25519PublicKey object satisfies the PublicKeyI interface
var _ PublicKeyI = &ED25519PublicKey{}

// BytesToED25519Public() creates a new PublicKeyI from bytes, rejecting encodings that are not a point on the curve
func BytesToED25519Public(bz []byte) (PublicKeyI, error) {
	if err := ValidateEd25519Point(bz); err != nil {
		return nil, err
	}
	return &ED25519PublicKey{PublicKey: bytes.Clone(bz)}, nil
}

// ValidateEd25519Point() ensures the bytes are a canonical, non-identity edwards25519 point
// ed25519.Verify() would simply fail on these, but registration must reject them up front
func ValidateEd25519Point(bz []byte) error {
	if len(bz) != Ed25519PubKeySize {
		return errors.New("wrong ed25519 public key size")
	}
	p, err := new(edwards25519.Point).SetBytes(bz)
	if err != nil {
		return err
	}
	if p.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return errors.New("ed25519 public key is the identity point")
	}
	return nil
}

// MarshalJSON() implements the json.Marshaller interface for ED25519PublicKey
func (p *ED25519PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON() implements the json.Unmarshaler interface for ED25519PublicKey
func (p *ED25519PublicKey) UnmarshalJSON(b []byte) error {
	bz, err := unmarshalHexJSON(b)
	if err != nil {
		return err
	}
	pk, err := BytesToED25519Public(bz)
	if err != nil {
		return err
	}
	*p = *pk.(*ED25519PublicKey)
	return nil
}

// Bytes() casts the public key to bytes
func (p *ED25519PublicKey) Bytes() []byte { return p.PublicKey }

// String() returns the hex string representation of the public key
func (p *ED25519PublicKey) String() string { return hex.EncodeToString(p.Bytes()) }

// Algorithm() returns the name of the signature scheme
func (p *ED25519PublicKey) Algorithm() string { return AlgorithmEd25519 }

// VerifyBytes() validates a digital signature was signed by the paired private key given the message signed
func (p *ED25519PublicKey) VerifyBytes(msg []byte, sig []byte) bool {
	if len(sig) != Ed25519SignatureSize {
		return false
	}
	return ed25519.Verify(p.PublicKey, msg, sig)
}

// Equals() compares two public key objects and returns if the two are equal
func (p *ED25519PublicKey) Equals(i PublicKeyI) bool {
	return p.PublicKey.Equal(ed25519.PublicKey(i.Bytes()))
}

// unmarshalHexJSON() decodes a json hex string into bytes
func unmarshalHexJSON(b []byte) ([]byte, error) {
	var hexString string
	if err := json.Unmarshal(b, &hexString); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexString)
}
