// Package crypto generates verification codes and keeps them as keyed digests.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Code range: six digits, never a leading zero.
const (
	codeMin = 100000
	codeMax = 999999
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateCode returns a uniformly random code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// CodeHasher computes keyed BLAKE2b-256 digests of (phone, code) pairs.
// The key lives for the process lifetime, same as the codes.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher constructs a hasher. A nil key draws a random 32-byte key.
func NewCodeHasher(key []byte) (*CodeHasher, error) {
	if key == nil {
		k, err := RandBytes(32)
		if err != nil {
			return nil, err
		}
		key = k
	}
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, errors.New("code hasher: key must be 1..64 bytes")
	}
	return &CodeHasher{key: append([]byte(nil), key...)}, nil
}

// Hash returns the digest binding code to phone.
func (h *CodeHasher) Hash(phone, code string) []byte {
	// New256 only fails on oversized keys, rejected in NewCodeHasher.
	mac, _ := blake2b.New256(h.key)
	mac.Write([]byte(phone))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

// Verify compares code against expected in constant time.
func (h *CodeHasher) Verify(phone, code string, expected []byte) bool {
	return subtle.ConstantTimeCompare(h.Hash(phone, code), expected) == 1
}
