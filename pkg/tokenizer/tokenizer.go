package tokenizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// hashLength is the hex-prefix length of a token hash
const hashLength = 16

// minTokenLength drops single-character noise tokens
const minTokenLength = 2

// Tokenize splits text into lowercase tokens. Splitting is deterministic
// and salt-free: the same input always yields the same token sequence.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLength {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// HashToken returns the deterministic hash of a single token: the first
// 16 hex characters of its SHA-256 digest
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// HashTokens tokenizes text and returns the sorted, deduplicated set of
// token hashes
func HashTokens(text string) []string {
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		seen[HashToken(tok)] = struct{}{}
	}

	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// HashFieldValues hashes every string-representable value in the given
// field map and returns the combined deduplicated hash set
func HashFieldValues(fields map[string]any) []string {
	seen := make(map[string]struct{})
	for _, v := range fields {
		s := Stringify(v)
		if s == "" {
			continue
		}
		for _, tok := range Tokenize(s) {
			seen[HashToken(tok)] = struct{}{}
		}
	}

	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// Stringify renders a field value for tokenization. Nested containers
// and nil values produce an empty string.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64, float32, int, int32, int64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}
