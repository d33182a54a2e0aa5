package encryption

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingDecrypter memoizes successful decryptions. A single risk evaluation
// reads the same records from several evaluators, and consecutive evaluations
// overlap heavily, so most reads are hits.
type CachingDecrypter struct {
	inner Decrypter
	cache *lru.Cache[string, string]
}

// NewCachingDecrypter wraps inner with an LRU of the given size. A
// non-positive size returns inner unchanged.
func NewCachingDecrypter(inner Decrypter, size int) Decrypter {
	if inner == nil || size <= 0 {
		return inner
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		return inner
	}
	return &CachingDecrypter{inner: inner, cache: cache}
}

// Decrypt returns the cached plaintext or defers to the wrapped Decrypter.
// Failures are not cached.
func (d *CachingDecrypter) Decrypt(ciphertext, iv string) (string, error) {
	key := cacheKey(ciphertext, iv)
	if pt, ok := d.cache.Get(key); ok {
		return pt, nil
	}
	pt, err := d.inner.Decrypt(ciphertext, iv)
	if err != nil {
		return "", err
	}
	d.cache.Add(key, pt)
	return pt, nil
}

// Len reports the number of cached entries.
func (d *CachingDecrypter) Len() int {
	return d.cache.Len()
}

func cacheKey(ciphertext, iv string) string {
	sum := sha256.Sum256([]byte(ciphertext))
	return iv + ":" + hex.EncodeToString(sum[:])
}
