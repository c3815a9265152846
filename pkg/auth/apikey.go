package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// KeyStore maps API keys to client IDs. Only SHA-256 digests of the keys are
// held in memory.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string // hex(SHA-256(key)) → client ID
}

// NewKeyStore parses "client:key" entries, as split from API_KEYS.
// Malformed entries are skipped.
func NewKeyStore(entries []string) *KeyStore {
	ks := &KeyStore{keys: make(map[string]string, len(entries))}
	for _, e := range entries {
		client, key, ok := strings.Cut(strings.TrimSpace(e), ":")
		client, key = strings.TrimSpace(client), strings.TrimSpace(key)
		if !ok || client == "" || key == "" {
			continue
		}
		ks.keys[digest(key)] = client
	}
	return ks
}

// Lookup returns the client that owns apiKey.
func (ks *KeyStore) Lookup(apiKey string) (clientID string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	clientID, ok = ks.keys[digest(apiKey)]
	return
}

// Add registers or reassigns a key.
func (ks *KeyStore) Add(clientID, apiKey string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[digest(apiKey)] = clientID
}

// Len reports how many keys are configured.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func digest(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
