package imapx

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalFlag(t *testing.T) {
	assert.Equal(t, FlagSeen, CanonicalFlag(`\SEEN`))
	assert.Equal(t, FlagDeleted, CanonicalFlag(`\deleted`))
	// Keywords keep their case.
	assert.Equal(t, Flag("$Forwarded"), CanonicalFlag("$Forwarded"))
	assert.Equal(t, Flag("MyKeyword"), CanonicalFlag("MyKeyword"))
}

func TestLabelKeywordRename(t *testing.T) {
	assert.Equal(t, Flag("$Label1"), FlagToWire("important"))
	assert.Equal(t, Flag("important"), FlagFromWire("$Label1"))
	assert.Equal(t, Flag("later"), FlagFromWire("$Label5"))

	// Non-label flags pass through, system flags canonicalized on read.
	assert.Equal(t, FlagSeen, FlagToWire(FlagSeen))
	assert.Equal(t, FlagSeen, FlagFromWire(`\seen`))
	assert.Equal(t, Flag("$Junk"), FlagToWire("$Junk"))
}

func TestFlagSetCaseInsensitiveSystemFlags(t *testing.T) {
	s := NewFlagSet(`\seen`)
	assert.True(t, s.Has(FlagSeen))
	assert.True(t, s.Has(`\SEEN`))
	assert.False(t, s.Has(FlagDeleted))

	// Keyword membership is case sensitive.
	s.Add("$Junk")
	assert.True(t, s.Has("$Junk"))
	assert.False(t, s.Has("$junk"))

	s.Remove(`\SeEn`)
	assert.False(t, s.Has(FlagSeen))
}

func TestFlagSetDiff(t *testing.T) {
	local := NewFlagSet(FlagSeen, FlagAnswered, "$Junk")
	server := NewFlagSet(FlagSeen, FlagDeleted)

	toAdd := local.Diff(server)
	sort.Slice(toAdd, func(i, k int) bool { return toAdd[i] < toAdd[k] })
	assert.Equal(t, []Flag{"$Junk", FlagAnswered}, toAdd)

	toRemove := server.Diff(local)
	assert.Equal(t, []Flag{FlagDeleted}, toRemove)
}
