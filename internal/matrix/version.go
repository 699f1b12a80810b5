package matrix

import "slices"

// Version counts structural changes across one or more matrices. It is bumped
// whenever the combined signature differs from the one last seen.
type Version struct {
	sig     []int
	version int
	seen    bool
}

// Update records the signatures of the given matrices and reports whether the
// structure changed since the previous call.
func (v *Version) Update(mats ...*SparseBlock) bool {
	sig := make([]int, 0, 64)
	for _, m := range mats {
		if m == nil {
			sig = append(sig, -1)
			continue
		}
		s := m.Signature()
		sig = append(sig, len(s))
		sig = append(sig, s...)
	}
	if v.seen && slices.Equal(sig, v.sig) {
		return false
	}
	v.sig = sig
	v.seen = true
	v.version++
	return true
}

// Value returns the current version number.
func (v *Version) Value() int {
	return v.version
}

// Invalidate forces the next Update to report a change.
func (v *Version) Invalidate() {
	v.seen = false
}
