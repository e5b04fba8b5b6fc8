package stagecache

import "github.com/goccy/go-json"

// marshalSnapshot/unmarshalSnapshot round-trip through the same Go types
// on both ends, so the default (capitalized) field names are stable and
// need no wire-specific struct — unlike internal/persist's on-disk digest,
// which must match spec §3's snake_case schema for external readers.
func marshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func unmarshalSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
