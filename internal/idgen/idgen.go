// Package idgen mints resource ids and revisions. Each token joins a
// random UUID with a nanoid suffix, two independent random sources.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the nanoid suffix.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of nanoid characters in a token.
var Length = 10

// Generate returns a new token: 32 hex digits, a dash and the nanoid suffix.
func Generate() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	suffix, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return strings.ReplaceAll(u.String(), "-", "") + "-" + suffix, nil
}

// Source mints ids and revisions.
type Source interface {
	NewID() (string, error)
	NewRevision() (string, error)
}

// Random is the production Source.
type Random struct{}

func (Random) NewID() (string, error)       { return Generate() }
func (Random) NewRevision() (string, error) { return Generate() }
