// Package idgen produces client-generated identifiers for rows created
// while offline.
//
// Offline IDs are usable as primary keys before any server contact: they
// carry a millisecond timestamp plus a random base36 suffix, and the "mob_"
// prefix keeps them disjoint from server-assigned ID formats. External
// references are short human-readable codes for display; their uniqueness
// is best-effort only.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 suffixes (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// OfflinePrefix distinguishes client-generated primary keys from
// server-assigned ones.
const OfflinePrefix = "mob_"

// randBase36 returns n random base36 characters.
func randBase36(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken;
		// nothing sensible to fall back to.
		panic(fmt.Sprintf("idgen: rand.Read: %v", err))
	}

	var b strings.Builder
	b.Grow(n)
	for _, c := range buf {
		b.WriteByte(base36Alphabet[int(c)%len(base36Alphabet)])
	}
	return b.String()
}

// NewOfflineID returns a collision-resistant primary key of the form
// mob_<unix-millis>_<6 random base36 chars>.
//
// The ID is stable from creation and is used as the foreign key for child
// rows before the parent has ever reached the server.
func NewOfflineID() string {
	return fmt.Sprintf("%s%d_%s", OfflinePrefix, time.Now().UnixMilli(), randBase36(6))
}

// IsOfflineID reports whether id was generated by NewOfflineID rather than
// assigned by the server.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflinePrefix)
}

// NewExternalRef returns a human-displayable reference code of the form
// EXT-YYMMDD-HHMMSS-XXX, derived from now plus three random characters.
//
// Collisions are a display inconvenience, not a data-integrity bug; callers
// must not use external refs as keys.
func NewExternalRef(now time.Time) string {
	return fmt.Sprintf("EXT-%s-%s-%s",
		now.Format("060102"),
		now.Format("150405"),
		strings.ToUpper(randBase36(3)))
}
