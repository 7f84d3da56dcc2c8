package store

import "bytes"

// lastKey() returns a key sorting after every key of the prefix that is at most maxKeyBytes long
func lastKey(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), bytes.Repeat([]byte{byte(255)}, maxKeyBytes+1)...)
}

// join() concatenates byte slices into a newly allocated slice
func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
