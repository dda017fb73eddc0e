package imapx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIDSetCompression(t *testing.T) {
	set := UIDSetNum(1, 2, 3, 5, 6, 9)
	assert.Equal(t, "1:3,5:6,9", set.String())
	assert.Equal(t, uint64(6), set.Count())
	assert.True(t, set.Contains(2))
	assert.False(t, set.Contains(4))
}

func TestUIDSetRoundTrip(t *testing.T) {
	uids := []UID{1, 2, 3, 7, 10, 11, 12, 40}
	set := UIDSetNum(uids...)

	parsed, err := ParseUIDSet(set.String())
	require.NoError(t, err)
	assert.Equal(t, uids, parsed.Nums())
}

func TestParseUIDSetRejectsGarbage(t *testing.T) {
	for _, s := range []string{"1:", ":5", "a", "1,,2", "0", "01"} {
		_, err := ParseUIDSet(s)
		assert.Error(t, err, "input %q", s)
	}

	// An absent set is valid and empty.
	set, err := ParseUIDSet("")
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestUIDSetBatcherUIDLimit(t *testing.T) {
	b := UIDSetBatcher{UIDLimit: 3}
	var frags []string
	for _, uid := range []UID{1, 2, 3, 5, 6, 9} {
		if frag, full := b.Add(uid); full {
			frags = append(frags, frag)
		}
	}
	if frag := b.Flush(); frag != "" {
		frags = append(frags, frag)
	}
	assert.Equal(t, []string{"1:3", "5:6,9"}, frags)
	assert.True(t, b.Empty())
}

func TestUIDSetBatcherEntryLimit(t *testing.T) {
	// Non-adjacent UIDs each open a new range entry; the entry budget
	// caps how many land in one fragment.
	b := UIDSetBatcher{EntryLimit: 2}
	var frags []string
	for _, uid := range []UID{1, 3, 5, 7} {
		if frag, full := b.Add(uid); full {
			frags = append(frags, frag)
		}
	}
	if frag := b.Flush(); frag != "" {
		frags = append(frags, frag)
	}
	assert.Equal(t, []string{"1,3", "5,7"}, frags)
}

func TestUIDSetBatcherUnbounded(t *testing.T) {
	b := UIDSetBatcher{}
	for uid := UID(1); uid <= 1000; uid++ {
		_, full := b.Add(uid)
		require.False(t, full)
	}
	assert.Equal(t, "1:1000", b.Flush())
}
