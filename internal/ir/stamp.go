package ir

import (
	"fmt"
	"maps"
	"strings"
)

// Stamp is the logical clock attached to every cell write and tombstone.
//
// Stamps are totally ordered: Counter first, then ClientID compared
// byte-wise. Two stamps from different replicas never compare equal
// because ClientIDs are unique per replica.
type Stamp struct {
	Counter  int64  `json:"counter"`
	ClientID string `json:"clientId"`
}

// BaselineStamp stamps rows hydrated from the backing database.
// Every replica hydrating the same rows produces identical cells, and any
// local edit (Counter >= 1) supersedes them.
var BaselineStamp = Stamp{Counter: 0, ClientID: "~baseline"}

// Compare returns -1, 0 or +1 following the total order.
func (s Stamp) Compare(other Stamp) int {
	switch {
	case s.Counter < other.Counter:
		return -1
	case s.Counter > other.Counter:
		return 1
	default:
		return strings.Compare(s.ClientID, other.ClientID)
	}
}

// After reports whether s is strictly newer than other.
func (s Stamp) After(other Stamp) bool {
	return s.Compare(other) > 0
}

// IsZero reports whether s carries no clock at all.
func (s Stamp) IsZero() bool {
	return s.Counter == 0 && s.ClientID == ""
}

// String renders the stamp as counter@client.
func (s Stamp) String() string {
	return fmt.Sprintf("%d@%s", s.Counter, s.ClientID)
}

// VersionVector records, per client id, the highest counter seen.
type VersionVector map[string]int64

// Observe raises the entry for the stamp's client if the stamp is newer.
func (vv VersionVector) Observe(s Stamp) {
	if cur, ok := vv[s.ClientID]; !ok || s.Counter > cur {
		vv[s.ClientID] = s.Counter
	}
}

// Covers reports whether the stamp is already reflected in the vector.
func (vv VersionVector) Covers(s Stamp) bool {
	seen, ok := vv[s.ClientID]
	return ok && s.Counter <= seen
}

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	if vv == nil {
		return VersionVector{}
	}
	return maps.Clone(vv)
}

// Merge raises every entry to the maximum of both vectors.
func (vv VersionVector) Merge(other VersionVector) {
	for client, counter := range other {
		if cur, ok := vv[client]; !ok || counter > cur {
			vv[client] = counter
		}
	}
}
