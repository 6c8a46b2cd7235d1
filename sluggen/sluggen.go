// Package sluggen generates public short-link aliases.
// Generators are safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
)

// Alphabet is the 62-symbol set short IDs are drawn from: digits, uppercase,
// lowercase. Fixed configuration; alias uniqueness is enforced by the store,
// not by the generator.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generator generates short-ID candidates.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// base62Generator implements Generator over the package alphabet using a
// cryptographically strong random source.
type base62Generator struct{}

// NewBase62 returns a new base62 short-ID generator.
func NewBase62() Generator {
	return &base62Generator{}
}

// maxRandomByte is the largest multiple of len(Alphabet) that fits a byte.
// Random bytes at or above it are discarded, so the remaining range divides
// evenly by the alphabet and every symbol is equally likely.
const maxRandomByte = 256 - 256%len(Alphabet)

// Generate returns a random base62 string of the specified length, with each
// symbol drawn uniformly from Alphabet.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
