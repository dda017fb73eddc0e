// Package imapnum manipulates static sets of message numbers encoded as
// comma-separated ranges ("1:5,9,12:20", the sequence-set ABNF rule minus
// the dynamic "*" forms, which the engine never produces).
package imapnum

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a single number or an inclusive range, with Start <= Stop.
type Range struct {
	Start, Stop uint32
}

// Contains returns true if q falls within the range.
func (r Range) Contains(q uint32) bool {
	return r.Start <= q && q <= r.Stop
}

// merge combines r and t if they intersect or touch. If they cannot be
// merged, r is returned unmodified and ok is false.
func (r Range) merge(t Range) (union Range, ok bool) {
	if r.Start > t.Start {
		r, t = t, r
	}
	if r.Stop >= t.Stop {
		return r, true // superset
	}
	if r.Stop == ^uint32(0) || r.Stop+1 >= t.Start {
		return Range{r.Start, t.Stop}, true
	}
	return r, false
}

// String returns the range as a seq-number or seq-range string.
func (r Range) String() string {
	if r.Start == r.Stop {
		return strconv.FormatUint(uint64(r.Start), 10)
	}
	b := strconv.AppendUint(make([]byte, 0, 24), uint64(r.Start), 10)
	return string(strconv.AppendUint(append(b, ':'), uint64(r.Stop), 10))
}

// Set is a sorted, non-overlapping list of ranges. The zero value is an
// empty set.
type Set []Range

// AddNum inserts the numbers q into the set.
func (s *Set) AddNum(q ...uint32) {
	for _, v := range q {
		s.insert(Range{v, v})
	}
}

// AddRange inserts an inclusive range into the set. Reversed bounds are
// normalized.
func (s *Set) AddRange(start, stop uint32) {
	if stop < start {
		start, stop = stop, start
	}
	s.insert(Range{start, stop})
}

// AddSet inserts all values from t into s.
func (s *Set) AddSet(t Set) {
	for _, v := range t {
		s.insert(v)
	}
}

// Contains returns true if q is contained in the set.
func (s Set) Contains(q uint32) bool {
	i, ok := s.search(q)
	return ok && s[i].Contains(q)
}

// Count returns the total number of values covered by the set.
func (s Set) Count() uint64 {
	var n uint64
	for _, r := range s {
		n += uint64(r.Stop-r.Start) + 1
	}
	return n
}

// Nums expands the set to the explicit ascending list of values it covers.
func (s Set) Nums() []uint32 {
	var nums []uint32
	for _, r := range s {
		for n := r.Start; ; n++ {
			nums = append(nums, n)
			if n == r.Stop {
				break
			}
		}
	}
	return nums
}

// String returns the wire representation of the set.
func (s Set) String() string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, 0, 64)
	for i, r := range s {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, r.String()...)
	}
	return string(b)
}

// insert adds r to the set, merging with neighbours where possible.
func (ptr *Set) insert(v Range) {
	s := *ptr
	defer func() { *ptr = s }()

	i, _ := s.search(v.Start)
	merged := false
	if i > 0 {
		s[i-1], merged = s[i-1].merge(v)
	}
	if i == len(s) {
		if !merged {
			s = append(s, v)
		}
		return
	} else if merged {
		i--
	} else if s[i], merged = s[i].merge(v); !merged {
		// insert in the middle
		s = append(s, Range{})
		copy(s[i+1:], s[i:])
		s[i] = v
		return
	}
	// keep merging rightward until a gap remains
	j := i + 1
	for ; j < len(s); j++ {
		var ok bool
		if s[i], ok = s[i].merge(s[j]); !ok {
			break
		}
	}
	s = append(s[:i+1], s[j:]...)
}

// search finds the index of the range containing q, or the insertion
// position if none does.
func (s Set) search(q uint32) (i int, ok bool) {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) >> 1
		if s[mid].Stop < q {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(s) && s[lo].Contains(q)
}

// errBadSet reports a malformed number set value.
type errBadSet string

func (err errBadSet) Error() string {
	return fmt.Sprintf("imapnum: bad number set value %q", string(err))
}

func parseNum(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 || v[0] == '0' {
		return 0, errBadSet(v)
	}
	return uint32(n), nil
}

func parseRange(v string) (Range, error) {
	sep := strings.IndexByte(v, ':')
	if sep < 0 {
		n, err := parseNum(v)
		return Range{n, n}, err
	}
	start, err := parseNum(v[:sep])
	if err != nil {
		return Range{}, err
	}
	stop, err := parseNum(v[sep+1:])
	if err != nil {
		return Range{}, err
	}
	if stop < start {
		start, stop = stop, start
	}
	return Range{start, stop}, nil
}

// ParseSet parses the wire representation of a number set.
func ParseSet(set string) (Set, error) {
	var s Set
	if set == "" {
		return s, nil
	}
	for _, sv := range strings.Split(set, ",") {
		r, err := parseRange(sv)
		if err != nil {
			return nil, err
		}
		s.AddRange(r.Start, r.Stop)
	}
	return s, nil
}
