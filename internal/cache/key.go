package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefixChars is how many leading characters of the text take part in the
// key. Texts that share this prefix share a cache entry.
const KeyPrefixChars = 1000

// Key derives the cache key for already trimmed text.
func Key(text string) string {
	hash := sha256.Sum256([]byte(truncate(text, KeyPrefixChars)))

	return hex.EncodeToString(hash[:])
}

func truncate(text string, chars int) string {
	count := 0
	for i := range text {
		if count == chars {
			return text[:i]
		}
		count++
	}

	return text
}
