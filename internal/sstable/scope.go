package sstable

// Scope is the inclusive key range of one SST plus its generation number,
// per spec.md §3. It is cached by the Version so point lookups and
// overlap tests never need to open the SST itself.
type Scope struct {
	StartKey []byte
	EndKey   []byte
	Gen      uint64
}

// Comparator orders two keys, matching bytes.Compare's contract.
type Comparator func(a, b []byte) int

// Contains reports whether key falls within [StartKey, EndKey] under cmp.
func (s Scope) Contains(key []byte, cmp Comparator) bool {
	return cmp(key, s.StartKey) >= 0 && cmp(key, s.EndKey) <= 0
}

// Overlaps reports whether s and other's key ranges intersect under cmp.
func (s Scope) Overlaps(other Scope, cmp Comparator) bool {
	return cmp(s.StartKey, other.EndKey) <= 0 && cmp(other.StartKey, s.EndKey) <= 0
}

// Fuse returns the smallest Scope covering every scope in scopes. Gen is
// left zero — a fused scope describes a key range, not a single file.
func Fuse(scopes []Scope, cmp Comparator) (Scope, bool) {
	if len(scopes) == 0 {
		return Scope{}, false
	}
	fused := Scope{StartKey: scopes[0].StartKey, EndKey: scopes[0].EndKey}
	for _, s := range scopes[1:] {
		if cmp(s.StartKey, fused.StartKey) < 0 {
			fused.StartKey = s.StartKey
		}
		if cmp(s.EndKey, fused.EndKey) > 0 {
			fused.EndKey = s.EndKey
		}
	}
	return fused, true
}
