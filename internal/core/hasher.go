package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisHashSeed = "olive:genesis:v1"

// StateHasher chains a SHA-256 over every applied command:
// hash[n] = SHA-256(hash[n-1] || sequence || digest).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(genesisHashSeed))}
}

// ComputeHash advances the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence uint64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], sequence)
	hasher.Write(seqBuf[:])
	hasher.Write(digest)

	copy(h.prevHash[:], hasher.Sum(nil))
	return h.prevHash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
