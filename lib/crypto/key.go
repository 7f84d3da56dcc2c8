package crypto

import (
	"encoding/hex"
	"fmt"
)

// NewPublicKeyFromString() creates a new PublicKeyI interface from a hex string
func NewPublicKeyFromString(s string) (PublicKeyI, error) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return NewPublicKeyFromBytes(bz)
}

// NewPublicKeyFromBytes() creates a new PublicKeyI interface from a byte slice
// the key type is inferred from the length: 32 bytes is ed25519, 48 bytes is a compressed BLS12-381 G1 point
func NewPublicKeyFromBytes(bz []byte) (PublicKeyI, error) {
	switch len(bz) {
	case Ed25519PubKeySize:
		return BytesToED25519Public(bz)
	case BLS12381PubKeySize:
		return BytesToBLS12381Public(bz)
	}
	return nil, fmt.Errorf("unrecognized public key format: %d bytes", len(bz))
}

// NewPrivateKeyFromString() creates a new PrivateKeyI interface from a hex string
func NewPrivateKeyFromString(s string) (PrivateKeyI, error) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return NewPrivateKeyFromBytes(bz)
}

// NewPrivateKeyFromBytes() creates a new PrivateKeyI interface from bytes
func NewPrivateKeyFromBytes(bz []byte) (PrivateKeyI, error) {
	switch len(bz) {
	case BLS12381PrivKeySize:
		return BytesToBLS12381Private(bz)
	case Ed25519PrivKeySize:
		return BytesToED25519Private(bz)
	default:
		return nil, fmt.Errorf("unrecognized private key format: %d", len(bz))
	}
}

// NewPrivateKey() generates a key of the named algorithm
func NewPrivateKey(algorithm string) (PrivateKeyI, error) {
	switch algorithm {
	case AlgorithmEd25519, "":
		return NewEd25519PrivateKey()
	case AlgorithmBLS12381:
		return NewBLS12381PrivateKey()
	default:
		return nil, fmt.Errorf("unknown key algorithm %q", algorithm)
	}
}
