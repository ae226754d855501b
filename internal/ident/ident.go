package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

const (
	// Length of an application id.
	Length   = 6
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// DefaultMaxAttempts bounds the collision retry loop.
	DefaultMaxAttempts = 1000
)

var pattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ErrExhausted means every attempt collided. With 36^6 ids this only happens
// when the id space is effectively full or the random source is broken.
var ErrExhausted = errors.New("id generator exhausted retry budget")

// Generator produces application ids.
type Generator struct {
	MaxAttempts int
	// Rand defaults to crypto/rand.Reader.
	Rand interface {
		Read(p []byte) (int, error)
	}
}

// Generate returns an id not present in existing.
func (g Generator) Generate(existing func(id string) bool) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		id, err := g.random()
		if err != nil {
			return "", err
		}
		if existing == nil || !existing(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}

func (g Generator) random() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, Length)
	for i := range buf {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether id has the application id shape.
func Valid(id string) bool {
	return pattern.MatchString(id)
}
