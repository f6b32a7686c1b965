// Package nickname generates default nicknames for newly accepted
// sessions before their owner picks one with a nick command.
package nickname

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"chatbroker/internal/protocol"
)

// adjectives and nouns are combined into two-word petnames, then
// truncated to 9 characters so the result always fits the 10-character
// nickname limit even after a uniqueness-disambiguating digit is
// appended by Generate.
var adjectives = []string{
	"quiet", "bold", "lucky", "swift", "calm", "eager", "mellow", "brisk",
	"spry", "nimble", "plain", "curt", "wry", "keen", "sly", "tidy",
}

var nouns = []string{
	"otter", "falcon", "badger", "heron", "lynx", "wren", "moth", "newt",
	"gecko", "vole", "hare", "crow", "tapir", "finch", "stoat", "ibis",
}

// Checker reports whether a candidate nickname is already held.
type Checker func(nick string) bool

// Generate returns a nickname that is syntactically valid, not reserved,
// and for which taken returns false. Any generator satisfying those
// properties is acceptable; this one picks a random adjective-noun pair,
// truncates it to 9 characters, and appends a digit suffix on collision.
func Generate(taken Checker) (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		adj, err := randomChoice(adjectives)
		if err != nil {
			return "", err
		}
		noun, err := randomChoice(nouns)
		if err != nil {
			return "", err
		}
		base := truncate(adj+noun, 9)
		candidate := base
		if attempt > 0 {
			digit, err := rand.Int(rand.Reader, big.NewInt(10))
			if err != nil {
				return "", err
			}
			candidate = truncate(base, 9) + digit.String()
		}
		if !protocol.ValidNick(candidate) {
			continue
		}
		if !taken(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("nickname: exhausted attempts generating a unique name")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func randomChoice(words []string) (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	return words[idx.Int64()], nil
}
