package crypto

import (
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestED25519Bytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		// private key testing
		privateKey, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		privateKey2, err := BytesToED25519Private(privateKey.Bytes())
		require.NoError(t, err)
		require.True(t, privateKey.Equals(privateKey2))
		// public key testing
		pubKey := privateKey.PublicKey()
		pubKey2, err := BytesToED25519Public(pubKey.Bytes())
		require.NoError(t, err)
		require.True(t, pubKey.Equals(pubKey2))
		require.Equal(t, AlgorithmEd25519, pubKey2.Algorithm())
	}
}

func TestED25519SignAndVerify(t *testing.T) {
	for i := 0; i < 100; i++ {
		pk, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		pubKey := pk.PublicKey()
		msg := make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		signature := pk.Sign(msg)
		require.True(t, pubKey.VerifyBytes(msg, signature))
		// a different message must not verify
		msg = make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		require.False(t, pubKey.VerifyBytes(msg, signature))
		// a truncated signature must not verify
		require.False(t, pubKey.VerifyBytes(msg, signature[:10]))
	}
}

func TestValidateEd25519Point(t *testing.T) {
	pk, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	identity := make([]byte, Ed25519PubKeySize)
	identity[0] = 1
	tests := []struct {
		name   string
		detail string
		bytes  []byte
		error  bool
	}{
		{
			name:   "valid",
			detail: "a generated key is a valid point",
			bytes:  pk.PublicKey().Bytes(),
		},
		{
			name:   "wrong size",
			detail: "31 bytes cannot be an ed25519 key",
			bytes:  make([]byte, 31),
			error:  true,
		},
		{
			name:   "identity",
			detail: "the identity point verifies forged signatures and is rejected",
			bytes:  identity,
			error:  true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// execute the function call
			err := ValidateEd25519Point(test.bytes)
			// validate the error
			require.Equal(t, test.error, err != nil, err)
		})
	}
}

func TestED25519JSON(t *testing.T) {
	pk, err := NewEd25519PrivateKey()
	require.NoError(t, err)
	// private key round trip
	bz, err := json.Marshal(pk)
	require.NoError(t, err)
	got := new(ED25519PrivateKey)
	require.NoError(t, json.Unmarshal(bz, got))
	require.True(t, pk.Equals(got))
	// public key round trip
	bz, err = json.Marshal(pk.PublicKey())
	require.NoError(t, err)
	gotPub := new(ED25519PublicKey)
	require.NoError(t, json.Unmarshal(bz, gotPub))
	require.True(t, pk.PublicKey().Equals(gotPub))
}
