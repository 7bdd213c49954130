package auth

import (
	"encoding/hex"
	"errors"
	"strings"
)

// APIKeyPrefix marks bastion API keys so they are recognizable in logs and scanners.
const APIKeyPrefix = "bst_"

// displayPrefixLen covers the marker plus eight secret characters.
const displayPrefixLen = len(APIKeyPrefix) + 8

var ErrMalformedAPIKey = errors.New("malformed api key")

// APIKeyManager mints API keys and derives their lookup hashes.
// Only the SHA-256 of a key is ever stored.
type APIKeyManager struct {
	prefix string
	secret int // hex characters after the prefix
}

func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{prefix: APIKeyPrefix, secret: 2 * TokenBytes}
}

// Generate returns a fresh key (bst_ followed by 64 hex characters) and its hash.
func (m *APIKeyManager) Generate() (plain, hash string, err error) {
	secret, err := GenerateToken(TokenBytes)
	if err != nil {
		return "", "", err
	}
	plain = m.prefix + secret
	return plain, HashToken(plain), nil
}

// Hash checks the shape of a presented key and returns its lookup hash.
// Malformed input is rejected before touching storage.
func (m *APIKeyManager) Hash(presented string) (string, error) {
	secret, ok := strings.CutPrefix(presented, m.prefix)
	if !ok || len(secret) != m.secret {
		return "", ErrMalformedAPIKey
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", ErrMalformedAPIKey
	}
	return HashToken(presented), nil
}

// DisplayPrefix is the non-secret identifier shown in listings.
func (m *APIKeyManager) DisplayPrefix(plain string) string {
	if len(plain) < displayPrefixLen {
		return plain
	}
	return plain[:displayPrefixLen]
}
