package lib

import (
	"bytes"
	"fmt"
	"time"

	"github.com/canopy-network/pulse/lib/codec"
	"github.com/canopy-network/pulse/lib/crypto"
)

/* This file defines transactions and blocks, their deterministic sign bytes and their stateless checks */

const (
	// MaxBlockFutureDrift is how far ahead of a validator's clock a block may be timestamped
	MaxBlockFutureDrift = 5 * time.Second
	// MaxBlockAge is how far behind a validator's clock a block may be timestamped
	MaxBlockAge = time.Hour
)

// TRANSACTION CODE BELOW

// Transaction is a pending value transfer included in blocks
type Transaction struct {
	Hash      HexBytes `json:"hash"`                // H(sign bytes)
	From      string   `json:"from"`                // sender
	To        string   `json:"to"`                  // recipient
	Amount    uint64   `json:"amount"`              // amount transferred
	Fee       uint64   `json:"fee"`                 // fee paid
	Time      uint64   `json:"time"`                // unix milliseconds of creation
	PublicKey HexBytes `json:"publicKey,omitempty"` // optional sender public key
	Signature HexBytes `json:"signature,omitempty"` // optional sender signature over the sign bytes
	Data      HexBytes `json:"data,omitempty"`      // arbitrary payload
}

// NewTransaction() creates and hashes an unsigned transaction
func NewTransaction(from, to string, amount, fee uint64, data []byte) *Transaction {
	tx := &Transaction{From: from, To: to, Amount: amount, Fee: fee, Time: NowMS(), Data: data}
	tx.Hash = crypto.Hash(tx.SignBytes())
	return tx
}

// SignBytes() returns the canonical bytes that are hashed and signed
func (t *Transaction) SignBytes() []byte {
	return codec.NewEncoder().
		String(1, t.From).
		String(2, t.To).
		Uint64(3, t.Amount).
		Uint64(4, t.Fee).
		Uint64(5, t.Time).
		Bytes(6, t.Data).
		Done()
}

// Sign() attaches the public key and a signature of the private key
func (t *Transaction) Sign(pk crypto.PrivateKeyI) {
	t.PublicKey = pk.PublicKey().Bytes()
	t.Signature = pk.Sign(t.SignBytes())
}

// Check() validates the transaction without any external state
func (t *Transaction) Check() ErrorI {
	if t == nil {
		return ErrInvalidTransaction("nil transaction")
	}
	if t.From == "" || t.To == "" {
		return ErrInvalidTransaction("empty sender or recipient")
	}
	if t.Amount == 0 && len(t.Data) == 0 {
		return ErrInvalidTransaction("empty transaction")
	}
	if !bytes.Equal(t.Hash, crypto.Hash(t.SignBytes())) {
		return ErrInvalidTransaction("hash mismatch")
	}
	// signatures are optional, but if present they must verify
	if len(t.Signature) != 0 || len(t.PublicKey) != 0 {
		pub, err := PublicKeyFromBytes(t.PublicKey)
		if err != nil {
			return ErrInvalidTransaction("bad public key")
		}
		if !pub.VerifyBytes(t.SignBytes(), t.Signature) {
			return ErrInvalidTransaction("bad signature")
		}
	}
	return nil
}

// Size() is the approximate byte size of the transaction used for pool limits
func (t *Transaction) Size() int {
	return len(t.SignBytes()) + len(t.Hash) + len(t.PublicKey) + len(t.Signature)
}

// TxRoot() is the merkle root over the transaction hashes in block order
func TxRoot(txs []*Transaction) []byte {
	leaves := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		leaves = append(leaves, tx.Hash)
	}
	return crypto.MerkleRoot(leaves)
}

// BLOCK CODE BELOW

// Block is a proposed or finalized set of transactions linked to its parent by hash
type Block struct {
	Height       uint64         `json:"height"`
	Epoch        uint64         `json:"epoch"`
	Round        uint64         `json:"round"`
	ProposerID   string         `json:"proposerID"`
	PreviousHash HexBytes       `json:"previousHash"`
	TxRoot       HexBytes       `json:"txRoot"`
	Transactions []*Transaction `json:"transactions"`
	FitnessProof *FitnessProof  `json:"fitnessProof"`
	Time         uint64         `json:"time"` // unix milliseconds
	Hash         HexBytes       `json:"hash"`
	Signature    HexBytes       `json:"signature"`
}

// SignBytes() returns the canonical header bytes; the transactions are committed through TxRoot
// and the fitness proof through its hash
func (b *Block) SignBytes() []byte {
	var proofHash []byte
	if b.FitnessProof != nil {
		proofHash = b.FitnessProof.Hash()
	}
	return codec.NewEncoder().
		Uint64(1, b.Height).
		Uint64(2, b.Epoch).
		Uint64(3, b.Round).
		String(4, b.ProposerID).
		Bytes(5, b.PreviousHash).
		Bytes(6, b.TxRoot).
		Bytes(7, proofHash).
		Uint64(8, b.Time).
		Done()
}

// ComputeHash() returns H(sign bytes)
func (b *Block) ComputeHash() []byte { return crypto.Hash(b.SignBytes()) }

// Sign() sets the hash of the block and signs it; the block must not be modified afterwards
func (b *Block) Sign(pk crypto.PrivateKeyI) {
	b.Hash = b.ComputeHash()
	b.Signature = pk.Sign(b.Hash)
}

// Check() performs the stateless structural validation of a block
func (b *Block) Check() ErrorI {
	if b == nil {
		return ErrNilBlock()
	}
	if b.Height == 0 {
		return ErrInvalidBlock("height 0")
	}
	if b.ProposerID == "" {
		return ErrInvalidBlock("empty proposer")
	}
	if len(b.PreviousHash) != crypto.HashSize {
		return ErrInvalidBlock("malformed previous hash")
	}
	if b.FitnessProof == nil {
		return ErrInvalidBlock("missing fitness proof")
	}
	if len(b.Signature) == 0 {
		return ErrInvalidBlock("missing signature")
	}
	if !bytes.Equal(b.Hash, b.ComputeHash()) {
		return ErrInvalidBlock("hash mismatch")
	}
	dedup := NewDeDuplicator[string]()
	for _, tx := range b.Transactions {
		if err := tx.Check(); err != nil {
			return ErrInvalidBlock(fmt.Sprintf("transaction: %s", err.(*Error).Msg))
		}
		if dedup.Found(tx.Hash.String()) {
			return ErrInvalidBlock("duplicate transaction")
		}
	}
	if !bytes.Equal(b.TxRoot, TxRoot(b.Transactions)) {
		return ErrInvalidBlock("transaction root mismatch")
	}
	return nil
}

// CheckTime() ensures the block timestamp is within the allowed window of the local clock
func (b *Block) CheckTime(now time.Time) ErrorI {
	t := time.UnixMilli(int64(b.Time))
	if t.After(now.Add(MaxBlockFutureDrift)) {
		return ErrInvalidBlock("timestamp too far in the future")
	}
	if t.Before(now.Add(-MaxBlockAge)) {
		return ErrInvalidBlock("timestamp too old")
	}
	return nil
}

// VerifySignature() checks the proposer signature over the block hash
func (b *Block) VerifySignature(pub crypto.PublicKeyI) bool {
	return pub != nil && pub.VerifyBytes(b.Hash, b.Signature)
}

// ShortHash() is the truncated hex hash used in logs
func (b *Block) ShortHash() string { return BytesToTruncatedString(b.Hash) }

// NowMS() returns the current unix time in milliseconds
func NowMS() uint64 { return uint64(time.Now().UnixMilli()) }
