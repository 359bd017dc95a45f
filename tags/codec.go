// server/tags/codec.go
package tags

import (
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
)

const ownerSeparator = "_"

// ErrInvalidOwner rejects owner ids that cannot prefix a counter id.
var ErrInvalidOwner = domain.NewValidationError("owner", "owner id must be non-empty and must not contain '_'")

// ValidOwner reports whether ownerID can prefix a counter id: it is
// non-empty and has no '_', so the first '_' of an id always ends the owner.
func ValidOwner(ownerID string) bool {
	return ownerID != "" && !strings.Contains(ownerID, ownerSeparator)
}

// CounterID maps an owner's tag to the storage id of its counter:
// "{owner}_{tag without '#', '/' replaced by '.'}". Owners carry no '_' and
// the tag grammar has no '.', so the mapping is injective across owners.
// There is no decode; counters keep the original name alongside the id.
func CounterID(ownerID, tagName string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(tagName, prefix), separator, ".")
	return ownerID + ownerSeparator + sanitized
}
