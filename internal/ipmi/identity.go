package ipmi

import (
	"strings"

	"github.com/google/uuid"
)

// IdentitySeparator joins the parts of a derived identity.
const IdentitySeparator = "_"

// FallbackIdentityPrefix marks identities generated locally because the
// snapshot could not provide a stable one.
const FallbackIdentityPrefix = "ipmi:"

// StableIdentity derives a device identifier from a snapshot.
//
// The identity is "<manufacturer>_<alias>", with the product name standing
// in for a missing manufacturer. Without an alias there is nothing that
// distinguishes two identical servers, so ok is false and the caller must
// use a FallbackIdentity of its own.
func StableIdentity(s Snapshot) (id string, ok bool) {
	if s.Alias == "" {
		return "", false
	}

	parts := make([]string, 0, 2)
	if m := s.Device[KeyManufacturerName]; m != "" {
		parts = append(parts, m)
	} else if p := s.Device[KeyProductName]; p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, s.Alias)

	return strings.Join(parts, IdentitySeparator), true
}

// FallbackIdentity returns a new random identity. Callers persist it; a
// second call never returns the same value.
func FallbackIdentity() string {
	return FallbackIdentityPrefix + uuid.NewString()
}

// IsFallbackIdentity reports whether id was produced by FallbackIdentity.
func IsFallbackIdentity(id string) bool {
	return strings.HasPrefix(id, FallbackIdentityPrefix)
}
