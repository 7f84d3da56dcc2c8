package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/crypto/argon2"
)

// EncryptedPrivateKey represents an encrypted form of a validator key, including the public key,
// salt used in key derivation, and the encrypted private key itself
type EncryptedPrivateKey struct {
	ValidatorID string `json:"validatorID"`
	Algorithm   string `json:"algorithm"`
	PublicKey   string `json:"publicKey"`
	Salt        string `json:"salt"`
	Encrypted   string `json:"encrypted"`
}

// EncryptPrivateKey creates an encrypted private key by generating a random salt
// and deriving an encryption key with the KDF, and finally encrypting key using AES-GCM
func EncryptPrivateKey(validatorID string, privateKey PrivateKeyI, password []byte) (*EncryptedPrivateKey, error) {
	// generate random 16 bytes salt
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	// derive an AES-GCM encryption key and nonce using the password and salt
	gcm, nonce, err := kdf(password, salt)
	if err != nil {
		return nil, err
	}
	publicKey := privateKey.PublicKey()
	// encrypt the private key with AES-GCM using the derived key and nonce
	return &EncryptedPrivateKey{
		ValidatorID: validatorID,
		Algorithm:   publicKey.Algorithm(),
		PublicKey:   publicKey.String(),
		Salt:        hex.EncodeToString(salt),
		Encrypted:   hex.EncodeToString(gcm.Seal(nil, nonce, privateKey.Bytes(), nil)),
	}, nil
}

// DecryptPrivateKey takes an EncryptedPrivateKey and decrypts it to a PrivateKeyI interface using the password
func DecryptPrivateKey(epk *EncryptedPrivateKey, password []byte) (pk PrivateKeyI, err error) {
	salt, err := hex.DecodeString(epk.Salt)
	if err != nil {
		return nil, err
	}
	encrypted, err := hex.DecodeString(epk.Encrypted)
	if err != nil {
		return nil, err
	}
	gcm, nonce, err := kdf(password, salt)
	if err != nil {
		return nil, err
	}
	plainText, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, errors.New("invalid password")
	}
	if pk, err = NewPrivateKeyFromBytes(plainText); err != nil {
		return nil, err
	}
	// ensure the file wasn't tampered with
	if pk.PublicKey().String() != epk.PublicKey {
		return nil, errors.New("decrypted key does not match the public key")
	}
	return pk, nil
}

// SaveEncryptedKey() writes the encrypted key to a file readable only by the owner
func SaveEncryptedKey(epk *EncryptedPrivateKey, path string) error {
	bz, err := json.MarshalIndent(epk, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0600)
}

// LoadEncryptedKey() reads an encrypted key file
func LoadEncryptedKey(path string) (*EncryptedPrivateKey, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	epk := new(EncryptedPrivateKey)
	if err = json.Unmarshal(bz, epk); err != nil {
		return nil, err
	}
	return epk, nil
}

// kdf derives an AES-GCM encryption key and nonce from a password and salt using Argon2 key derivation
// This key is used to initialize AES-GCM, and a 12-byte nonce is returned for encryption
func kdf(password, salt []byte) (gcm cipher.AEAD, nonce []byte, err error) {
	// use Argon2 to derive a 32 byte key from the password and salt
	key := argon2.Key(password, salt, 3, 32*1024, 4, 32)
	// init AES block cipher with the derived key
	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}
	// init AES-GCM mode with the AES cipher block
	if gcm, err = cipher.NewGCM(block); err != nil {
		return
	}
	// return the gcm and the 12 byte nonce
	return gcm, key[:12], nil
}
