// Package usercode generates and validates the short human-typeable codes
// entered on the web side to approve a pairing.
package usercode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet excludes vowels (prevents accidental words) and the visually or
// aurally confusable characters 0/O, 1/I/L.
const Alphabet = "BCDFGHJKMNPQRSTVWXYZ23456789"

// Length is the number of usable characters, rendered as XXXX-XXXX.
const Length = 8

// New generates a formatted user code, e.g. "BCDF-2345".
func New() (string, error) {
	b := make([]byte, Length)
	max := big.NewInt(int64(len(Alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate user code: %w", err)
		}
		b[i] = Alphabet[idx.Int64()]
	}
	return string(b[:4]) + "-" + string(b[4:]), nil
}

// Normalize maps user input to the canonical stored form: uppercase, spaces
// stripped, with the separator at the fixed offset. Output is only meaningful
// when Valid reports true.
func Normalize(input string) string {
	s := strings.ToUpper(input)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != Length {
		return s
	}
	return s[:4] + "-" + s[4:]
}

// Valid reports whether code is a normalized user code: correct length,
// separator in place, every character drawn from Alphabet.
func Valid(code string) bool {
	if len(code) != Length+1 || code[4] != '-' {
		return false
	}
	for i, c := range code {
		if i == 4 {
			continue
		}
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}
