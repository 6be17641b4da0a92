package token

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync/atomic"

	jose "gopkg.in/go-jose/go-jose.v2"
)

// KeySet is an immutable snapshot of the identity provider's published
// signing keys, indexed by key ID.
type KeySet struct {
	keys map[string]*rsa.PublicKey
}

// NewKeySet builds a key set from known keys. Used by tests and by wiring
// that loads keys from somewhere other than a JWKS document.
func NewKeySet(keys map[string]*rsa.PublicKey) *KeySet {
	return &KeySet{keys: keys}
}

// ParseJWKS builds a key set from a JWKS document. Only RSA signature keys
// are retained; other key types are ignored.
func ParseJWKS(raw []byte) (*KeySet, error) {
	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &jwks); err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, jwk := range jwks.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub, ok := jwk.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[jwk.KeyID] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("parse JWKS: no usable RSA signing keys")
	}
	return &KeySet{keys: keys}, nil
}

// Key looks up a public key by ID.
func (k *KeySet) Key(kid string) (*rsa.PublicKey, bool) {
	pub, ok := k.keys[kid]
	return pub, ok
}

// Len returns the number of keys in the set.
func (k *KeySet) Len() int { return len(k.keys) }

// KeySource publishes the current key set to concurrent readers. The external
// key-retrieval collaborator swaps in a new snapshot on rotation; validation
// in flight keeps the snapshot it started with. An empty source fails closed.
type KeySource struct {
	current atomic.Pointer[KeySet]
}

// NewKeySource returns a source, optionally seeded with an initial set.
func NewKeySource(initial *KeySet) *KeySource {
	s := &KeySource{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Swap atomically publishes a new key set.
func (s *KeySource) Swap(ks *KeySet) {
	s.current.Store(ks)
}

// Current returns the active key set, or nil when none is published.
func (s *KeySource) Current() *KeySet {
	return s.current.Load()
}
