package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cbergoon/merkletree"
)

// Content implements merkletree.Content for one iteration token
type Content struct {
	token string
}

// NewContent creates a new Content from a token
func NewContent(token string) Content {
	return Content{token: token}
}

// Token renders the identity of one iteration. Two sessions that behaved
// identically produce identical token sequences.
func Token(iteration int, outcome string, exitCode int, cid string) string {
	return fmt.Sprintf("%d|%s|%d|%s", iteration, outcome, exitCode, cid)
}

// CalculateHash implements the Content interface
func (c Content) CalculateHash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(c.token)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Equals implements the Content interface
func (c Content) Equals(other merkletree.Content) (bool, error) {
	otherContent, ok := other.(Content)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return c.token == otherContent.token, nil
}

// BuildTree builds a Merkle tree from a list of tokens
func BuildTree(tokens []string) (*merkletree.MerkleTree, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("cannot build tree from empty token list")
	}

	contents := make([]merkletree.Content, 0, len(tokens))
	for _, token := range tokens {
		contents = append(contents, NewContent(token))
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to build Merkle tree: %w", err)
	}
	return tree, nil
}

// Fingerprint returns the hex Merkle root over tokens, or "" when empty.
func Fingerprint(tokens []string) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}
	tree, err := BuildTree(tokens)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tree.MerkleRoot()), nil
}

// VerifyToken reports whether token is part of the tree.
func VerifyToken(tree *merkletree.MerkleTree, token string) (bool, error) {
	if tree == nil {
		return false, fmt.Errorf("cannot verify content in nil tree")
	}

	verified, err := tree.VerifyContent(NewContent(token))
	if err != nil {
		return false, fmt.Errorf("failed to verify content: %w", err)
	}
	return verified, nil
}

// VerifyFingerprint rebuilds the tree from tokens and compares its root.
func VerifyFingerprint(tokens []string, expected string) error {
	tree, err := BuildTree(tokens)
	if err != nil {
		return fmt.Errorf("failed to build tree for verification: %w", err)
	}

	valid, err := tree.VerifyTree()
	if err != nil {
		return fmt.Errorf("tree verification failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("tree structure is invalid")
	}

	want, err := hex.DecodeString(expected)
	if err != nil {
		return fmt.Errorf("invalid fingerprint %q: %w", expected, err)
	}
	if actual := tree.MerkleRoot(); !bytes.Equal(actual, want) {
		return fmt.Errorf("merkle root mismatch: expected %x, got %x", want, actual)
	}
	return nil
}
