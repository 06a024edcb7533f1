package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores opaque values with a per-entry TTL
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a file-safe cache key for an item of the given kind
func Key(kind, id string) string {
	hash := sha256.Sum256([]byte(id))
	return "tariffscope-v1-" + kind + "-" + hex.EncodeToString(hash[:])
}
