package imapx

import (
	"github.com/emersion/go-imapx/internal/imapnum"
)

// UIDRange is an inclusive range of UIDs.
type UIDRange struct {
	Start, Stop UID
}

// UIDSet is a set of UIDs encoded on the wire as comma-separated ranges.
type UIDSet struct {
	set imapnum.Set
}

// UIDSetNum builds a set from explicit UIDs.
func UIDSetNum(uids ...UID) UIDSet {
	var s UIDSet
	s.AddNum(uids...)
	return s
}

// ParseUIDSet parses the wire form ("1:5,9") into a set.
func ParseUIDSet(s string) (UIDSet, error) {
	set, err := imapnum.ParseSet(s)
	return UIDSet{set}, err
}

// AddNum inserts UIDs into the set.
func (s *UIDSet) AddNum(uids ...UID) {
	for _, uid := range uids {
		s.set.AddNum(uint32(uid))
	}
}

// AddRange inserts an inclusive UID range into the set.
func (s *UIDSet) AddRange(start, stop UID) {
	s.set.AddRange(uint32(start), uint32(stop))
}

// Contains returns true if uid is in the set.
func (s UIDSet) Contains(uid UID) bool {
	return s.set.Contains(uint32(uid))
}

// Count returns the number of UIDs covered by the set.
func (s UIDSet) Count() uint64 { return s.set.Count() }

// Empty reports whether the set covers no UID.
func (s UIDSet) Empty() bool { return len(s.set) == 0 }

// Nums expands the set to an explicit ascending UID list.
func (s UIDSet) Nums() []UID {
	nums := s.set.Nums()
	uids := make([]UID, len(nums))
	for i, n := range nums {
		uids[i] = UID(n)
	}
	return uids
}

// String returns the wire representation of the set.
func (s UIDSet) String() string { return s.set.String() }

// UIDSetBatcher compresses an ascending UID sequence into minimal
// "start:end" fragments, flushing whenever a limit is exceeded. It is the
// single routine FETCH batching and COPY/MOVE/STORE batching depend on.
//
// EntryLimit bounds the number of range entries per fragment and UIDLimit
// bounds the total number of UIDs per fragment; zero means unbounded.
type UIDSetBatcher struct {
	EntryLimit int
	UIDLimit   int

	ranges []UIDRange
	uids   int
}

// Add appends uid to the batch. If adding it exhausts a limit, the
// completed wire fragment is returned with full set to true and the batcher
// resets for the next fragment.
//
// UIDs must be fed in ascending order; a UID adjacent to the previous one
// extends the current range instead of opening a new entry.
func (b *UIDSetBatcher) Add(uid UID) (fragment string, full bool) {
	n := len(b.ranges)
	if n > 0 && uid == b.ranges[n-1].Stop+1 {
		b.ranges[n-1].Stop = uid
	} else {
		b.ranges = append(b.ranges, UIDRange{uid, uid})
	}
	b.uids++

	if (b.EntryLimit > 0 && len(b.ranges) >= b.EntryLimit) ||
		(b.UIDLimit > 0 && b.uids >= b.UIDLimit) {
		return b.Flush(), true
	}
	return "", false
}

// Flush returns the wire fragment for any UIDs still batched, resetting the
// batcher. It returns "" if the batch is empty.
func (b *UIDSetBatcher) Flush() string {
	if len(b.ranges) == 0 {
		return ""
	}
	var set UIDSet
	for _, r := range b.ranges {
		set.AddRange(r.Start, r.Stop)
	}
	b.ranges = b.ranges[:0]
	b.uids = 0
	return set.String()
}

// Empty reports whether no UID is currently batched.
func (b *UIDSetBatcher) Empty() bool { return len(b.ranges) == 0 }
