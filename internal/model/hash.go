package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashLen is the number of hex characters kept from the SHA-256 digest (64 bits).
const HashLen = 16

// Hash returns the content address of a record. The fields are encoded as
// canonical JSON (sorted keys, UTF-8, no HTML escaping) before hashing, so
// equal inputs always produce equal digests.
func Hash(fields map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		// Identity fields are strings, string slices and nil; encoding them
		// cannot fail, but keep the function total regardless.
		buf.Reset()
		fmt.Fprintf(&buf, "%v", fields)
	}
	return HashString(buf.String())
}

// HashString hashes raw content.
func HashString(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// nullable maps the empty string to JSON null so optional fields hash the
// same way whether they were never set or explicitly cleared.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
