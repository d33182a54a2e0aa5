package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// userHashLen is the number of hex characters kept from the HMAC digest.
const userHashLen = 24

// Hasher produces stable anonymised user hashes. The same user id always maps
// to the same hash under one secret, and the hash cannot be reversed without it.
type Hasher struct {
	secret []byte
}

// NewHasher creates a Hasher keyed by secret.
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns the first 24 hex chars of HMAC-SHA256(secret, userID).
func (h *Hasher) Hash(userID string) string {
	return UserHash(h.secret, userID)
}

// UserHash is the functional form of Hasher.Hash.
func UserHash(secret []byte, userID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))[:userHashLen]
}
