package keys

import (
	"fmt"
	"time"
)

// Keyring holds the trust root for a single invocation: the configured root
// keys, the root signature threshold, and the set of revoked key IDs.
//
// A keyring is built once from configuration and passed explicitly to the
// evaluator; it is never process-global. It only mutates in two ways after
// construction: release keys are registered once their key set passes the
// root quorum, and revocations discovered in verified manifests accumulate.
// Revocation is monotonic: within a session a revoked ID never becomes
// trusted again.
type Keyring struct {
	rootThreshold int
	roots         map[KeyID]*PublicKey
	release       map[KeyID]*PublicKey
	revoked       map[KeyID]struct{}
}

// NewKeyring builds a keyring from the configured trust root.
func NewKeyring(roots []*PublicKey, rootThreshold int, revoked []KeyID) (*Keyring, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("trust root has no keys")
	}
	if rootThreshold < 1 {
		return nil, fmt.Errorf("root threshold must be at least 1, got %d", rootThreshold)
	}

	ring := &Keyring{
		rootThreshold: rootThreshold,
		roots:         make(map[KeyID]*PublicKey, len(roots)),
		release:       make(map[KeyID]*PublicKey),
		revoked:       make(map[KeyID]struct{}, len(revoked)),
	}

	for _, key := range roots {
		if key.Role != RoleRoot {
			return nil, fmt.Errorf("trust root contains a key with role %q", key.Role)
		}
		ring.roots[key.ID()] = key
	}

	ring.AddRevoked(revoked...)
	return ring, nil
}

// RootThreshold returns the minimum number of distinct valid root
// signatures required to authorize a release key set.
func (r *Keyring) RootThreshold() int {
	return r.rootThreshold
}

// Resolve returns the key with the given ID, searching root keys first and
// then registered release keys. Returns ErrUnknownKey if absent.
func (r *Keyring) Resolve(id KeyID) (*PublicKey, error) {
	if key, ok := r.roots[id]; ok {
		return key, nil
	}
	if key, ok := r.release[id]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, id)
}

// IsRevoked reports whether the key ID has been revoked.
func (r *Keyring) IsRevoked(id KeyID) bool {
	_, ok := r.revoked[id]
	return ok
}

// IsExpired reports whether key is expired at the given instant.
func (r *Keyring) IsExpired(key *PublicKey, at time.Time) bool {
	return key.ExpiredAt(at)
}

// AddRevoked records key IDs as revoked. There is deliberately no way to
// un-revoke an ID.
func (r *Keyring) AddRevoked(ids ...KeyID) {
	for _, id := range ids {
		r.revoked[id] = struct{}{}
	}
}

// AddRelease registers authorized release keys. Keys that do not carry the
// release role are ignored, as are keys whose ID is already a root key: a
// key has exactly one role, so cross-role reuse never widens a quorum.
func (r *Keyring) AddRelease(candidates ...*PublicKey) {
	for _, key := range candidates {
		if key.Role != RoleRelease {
			continue
		}
		id := key.ID()
		if _, isRoot := r.roots[id]; isRoot {
			continue
		}
		r.release[id] = key
	}
}

// ReleaseKey returns the registered release key with the given ID.
func (r *Keyring) ReleaseKey(id KeyID) (*PublicKey, bool) {
	key, ok := r.release[id]
	return key, ok
}
