package wire

import "encoding/hex"

// MinConnectionIDLength and MaxConnectionIDLength bound the CID length
// RFC 9000 allows on the wire (spec.md §3: "opaque byte string, 8-20
// bytes" for the lengths this implementation itself generates; shorter
// peer-chosen CIDs, including zero-length, are accepted on receive).
const (
	MinConnectionIDLength = 8
	MaxConnectionIDLength = 20
)

// ConnectionID is an opaque routing label.
type ConnectionID []byte

// String renders the CID as lowercase hex, for logging.
func (c ConnectionID) String() string {
	if len(c) == 0 {
		return "(empty)"
	}
	return hex.EncodeToString(c)
}

// Equal reports whether two connection IDs carry the same bytes.
func (c ConnectionID) Equal(other ConnectionID) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}
