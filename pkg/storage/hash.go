package storage

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// NormalizeContent lowercases the text and collapses runs of whitespace to
// single spaces. Hashing always runs over the normalized form so that
// cosmetic differences do not defeat deduplication.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// ContentHash returns the md5 hex digest of the normalized content. This is
// the primary deduplication key (char(32) in the schema).
func ContentHash(content string) string {
	sum := md5.Sum([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
