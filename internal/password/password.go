// Package password derives and verifies password digests with scrypt.
//
// Digests and salts are stored as lower-case hex strings. The salt string
// itself, not its decoded bytes, is the scrypt salt input.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	slogctx "github.com/veqryn/slog-context"
)

const (
	costN     = 1 << 14
	blockR    = 8
	parallelP = 1
	keyLength = 64
	saltBytes = 16

	// MaxLength bounds the input accepted by Compare.
	MaxLength = 200
)

var ErrEmptySalt = errors.New("empty salt")

// deriveKey is swapped in tests to observe KDF invocations.
var deriveKey = scrypt.Key

// Hash derives the hex-encoded digest of the NFC-normalised password.
func Hash(password, salt string) (string, error) {
	if salt == "" {
		return "", ErrEmptySalt
	}

	key, err := deriveKey([]byte(norm.NFC.String(password)), []byte(salt), costN, blockR, parallelP, keyLength)
	if err != nil {
		return "", fmt.Errorf("deriving key: %w", err)
	}

	return hex.EncodeToString(key), nil
}

func GenerateSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// Compare reports whether password matches the expected digest. It never
// returns an error: failures are logged and reported as a mismatch.
func Compare(ctx context.Context, password, salt, expected string) bool {
	if utf8.RuneCountInString(password) > MaxLength {
		return false
	}

	got, err := Hash(password, salt)
	if err != nil {
		slogctx.Error(ctx, "Password comparison failed", "error", err)
		return false
	}

	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
