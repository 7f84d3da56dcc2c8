package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

const (
	HashSize = sha256.Size
)

var (
	// ZeroHash is the 'previous hash' of the genesis block
	ZeroHash = make([]byte, HashSize)
	// EmptyRoot is the commitment of an empty set of items
	EmptyRoot = Hash([]byte("empty"))
)

/*
	Hash is a function that takes an input message and returns a fixed-size string of bytes that is unique to the input
	Used for block identity, transaction set commitments, fitness commitments and state hashes
*/

// Hasher() returns the global hashing algorithm used
func Hasher() hash.Hash { return sha256.New() }

// Hash() executes the global hashing algorithm on input bytes
func Hash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// HashString() returns the hex byte version of a hash
func HashString(msg []byte) string { return hex.EncodeToString(Hash(msg)) }

// HashAll() hashes the concatenation of multiple segments without an intermediate allocation
func HashAll(segments ...[]byte) []byte {
	h := Hasher()
	for _, s := range segments {
		h.Write(s)
	}
	return h.Sum(nil)
}

// MerkleTree creates a merkle tree from a slice of bytes. A
// linear slice was chosen since it uses about half as much memory as a tree
// example: items = {a, b, c, d} -> store = {H(a), H(b), H(c), H(d), H(H(a),H(b)), H(H(c),H(d)), H(H(H(a),H(b)),H(H(c),H(d))) }
// an empty list of items commits to EmptyRoot
func MerkleTree(items [][]byte) (root []byte, store [][]byte, err error) {
	if len(items) == 0 {
		return EmptyRoot, [][]byte{}, nil
	}
	// calculate how many entries are required to hold the binary merkle
	// tree as a linear array and create a slice of that size.
	offset := nextPowerOfTwo(len(items))
	// calculate the length of the tree
	size := offset*2 - 1
	// initialize the store to populate the tree with
	store = make([][]byte, size)
	// create the base hashes and populate the slice with them.
	for i, item := range items {
		store[i] = Hash(item)
	}
	// offset index = after the last item and adjusted to the next power of two.
	for i := 0; i < size-1; i += 2 {
		switch {
		// normal case, parent = hash(Concat(left, right))
		default:
			store[offset] = HashAll(store[i], store[i+1])

		// no left or right child, so the parent is going to be nil
		case store[i] == nil:
			store[offset] = nil

		// no right child, parent = hash(Concat(left, left))
		case store[i+1] == nil:
			store[offset] = HashAll(store[i], store[i])
		}
		offset++
	}
	return store[size-1], store, nil
}

// MerkleRoot() is a convenience wrapper of MerkleTree() that discards the tree
func MerkleRoot(items [][]byte) []byte {
	root, _, _ := MerkleTree(items)
	return root
}

// nextPowerOfTwo() calculates the smallest power of 2 that is greater than or equal to the input value
func nextPowerOfTwo(v int) int {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
