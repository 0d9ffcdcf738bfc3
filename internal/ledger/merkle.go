package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot computes a binary Merkle root from a slice of hex digests.
// Odd nodes are paired with themselves. Used by the anchoring verification
// provider to cover many payload hashes with a single anchor reference.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}

	level := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return ""
		}
		level = append(level, b)
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}

// MerklePath returns the sibling hashes proving inclusion of the leaf at
// index, bottom-up. Each step records the sibling digest and whether it sits
// to the left of the running hash.
func MerklePath(hashes []string, index int) []PathStep {
	if index < 0 || index >= len(hashes) {
		return nil
	}

	level := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil
		}
		level = append(level, b)
	}

	var path []PathStep
	pos := index

	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos // odd node pairs with itself
		}
		path = append(path, PathStep{
			Hash: hex.EncodeToString(level[sibling]),
			Left: sibling < pos,
		})

		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
		pos /= 2
	}

	return path
}

// PathStep is one sibling in a Merkle inclusion path.
type PathStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// VerifyPath folds a leaf digest through a path and checks it reaches root.
func VerifyPath(leaf string, path []PathStep, root string) bool {
	current, err := hex.DecodeString(leaf)
	if err != nil {
		return false
	}

	for _, step := range path {
		sibling, decodeErr := hex.DecodeString(step.Hash)
		if decodeErr != nil {
			return false
		}
		if step.Left {
			current = hashPair(sibling, current)
		} else {
			current = hashPair(current, sibling)
		}
	}

	return hex.EncodeToString(current) == root
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
