// Package token issues and burns single-use reviewer tokens.
//
// A Token is the canonical form of every token-bearing field a reviewer
// record has ever carried. The repository codec translates between Token and
// the stored field layout; nothing here knows about storage.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Size is the number of random bytes in a token (hex doubles it).
const Size = 32

// Token is one reviewer's single-use credential.
type Token struct {
	// Value is the current token. Empty once burned or never issued.
	Value string
	// Aliases are further live values found in historical fields.
	Aliases []string
	Used    bool

	IssuedAt      time.Time
	InvalidatedAt time.Time

	// SpentHashes are SHA-256 digests of burned values. They let a replayed
	// token be recognised as spent without the value ever validating again.
	SpentHashes []string
}

// Issue returns a fresh hex-encoded token.
func Issue() (string, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Normalize trims a presented token.
func Normalize(value string) string {
	return strings.TrimSpace(value)
}

// Hash returns the digest stored for a spent value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(Normalize(value)))
	return hex.EncodeToString(sum[:])
}

// Values returns every value the token currently holds, canonical first.
func (t Token) Values() []string {
	out := make([]string, 0, 1+len(t.Aliases))
	if t.Value != "" {
		out = append(out, t.Value)
	}
	for _, a := range t.Aliases {
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// Holds reports whether value is one of the token's values. The comparison
// is exact after trimming; an empty value never matches.
func (t Token) Holds(value string) bool {
	value = Normalize(value)
	if value == "" {
		return false
	}
	return slices.Contains(t.Values(), value)
}

// Spent reports whether value was burned on this token.
func (t Token) Spent(value string) bool {
	value = Normalize(value)
	if value == "" {
		return false
	}
	return slices.Contains(t.SpentHashes, Hash(value))
}

// Live reports whether the token can still be presented.
func (t Token) Live() bool {
	return !t.Used && len(t.Values()) > 0
}

// Invalidate burns every value the token holds. Calling it on an already
// invalidated token returns the same token unchanged.
func Invalidate(t Token, at time.Time) Token {
	if t.Used && len(t.Values()) == 0 {
		return t
	}
	out := t
	out.SpentHashes = slices.Clone(t.SpentHashes)
	for _, v := range t.Values() {
		if h := Hash(v); !slices.Contains(out.SpentHashes, h) {
			out.SpentHashes = append(out.SpentHashes, h)
		}
	}
	out.Value = ""
	out.Aliases = nil
	out.Used = true
	if out.InvalidatedAt.IsZero() {
		out.InvalidatedAt = at
	}
	return out
}

// Reissue replaces whatever the token held with a fresh value. Earlier spent
// hashes are kept.
func Reissue(t Token, value string, at time.Time) Token {
	return Token{
		Value:       Normalize(value),
		IssuedAt:    at,
		SpentHashes: slices.Clone(t.SpentHashes),
	}
}
