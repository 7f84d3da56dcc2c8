package crypto

import (
	"testing"

	"github.com/drand/kyber"
	"github.com/stretchr/testify/require"
)

func TestBLS(t *testing.T) {
	// generate a message to test with
	msg := []byte("hello world")
	// create three bls private keys
	k1, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	k2, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	k3, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	// organize the 3 keys in a list
	publicKeys := [][]byte{k1.PublicKey().Bytes(), k2.PublicKey().Bytes(), k3.PublicKey().Bytes()}
	// convert the keys to kyber points and save to a list
	var points []kyber.Point
	for _, bz := range publicKeys {
		require.Len(t, bz, BLS12381PubKeySize)
		point, e := BytesToBLS12381Point(bz)
		require.NoError(t, e)
		points = append(points, point)
	}
	// generate a new multi-public key from that list
	multiKey, err := NewMultiBLSFromPoints(points, nil)
	require.NoError(t, err)
	// sign the message with the first and third private key
	k1Sig := k1.Sign(msg)
	k3Sig := k3.Sign(msg)
	require.Len(t, k1Sig, BLS12381SignatureSize)
	// update the bitmap with those who signed and their respective indices
	require.NoError(t, multiKey.AddSigner(k1Sig, 0))
	require.NoError(t, multiKey.AddSigner(k3Sig, 2))
	// an out of range signer is rejected
	require.Error(t, multiKey.AddSigner(k3Sig, 3))
	// ensure signer 1 was enabled
	enabled, err := multiKey.SignerEnabledAt(0)
	require.NoError(t, err)
	require.True(t, enabled)
	// ensure signer 2 was disabled
	enabled, err = multiKey.SignerEnabledAt(1)
	require.NoError(t, err)
	require.False(t, enabled)
	// ensure signer 3 was enabled
	enabled, err = multiKey.SignerEnabledAt(2)
	require.NoError(t, err)
	require.True(t, enabled)
	// aggregate the signature
	sig, err := multiKey.AggregateSignatures()
	require.NoError(t, err)
	// ensure the aggregate verifies
	require.True(t, multiKey.VerifyBytes(msg, sig))
	// ensure a verifier rebuilt from bytes and the bitmap also verifies
	rebuilt, err := NewMultiBLS(publicKeys, multiKey.Bitmap())
	require.NoError(t, err)
	require.True(t, rebuilt.VerifyBytes(msg, sig))
	// a different bitmap must not verify
	wrong, err := NewMultiBLS(publicKeys, nil)
	require.NoError(t, err)
	require.NoError(t, wrong.SetBitmap([]byte{0b011}))
	require.False(t, wrong.VerifyBytes(msg, sig))
}

func TestBLSBytes(t *testing.T) {
	k1, err := NewBLS12381PrivateKey()
	require.NoError(t, err)
	// private key round trip
	k2, err := BytesToBLS12381Private(k1.Bytes())
	require.NoError(t, err)
	require.True(t, k1.Equals(k2))
	// public key round trip
	pub, err := BytesToBLS12381Public(k1.PublicKey().Bytes())
	require.NoError(t, err)
	require.True(t, k1.PublicKey().Equals(pub))
	require.Equal(t, AlgorithmBLS12381, pub.Algorithm())
	// individual signature verification
	msg := []byte("checkpoint")
	require.True(t, pub.VerifyBytes(msg, k2.Sign(msg)))
	require.False(t, pub.VerifyBytes([]byte("other"), k2.Sign(msg)))
}
