package imapx

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCapSetDerivations(t *testing.T) {
	s := NewCapSet("imap4rev1", "LIST-STATUS")
	assert.True(t, s.Has(CapIMAP4rev1))
	assert.True(t, s.Has(CapListStatus))
	// LIST-STATUS implies LIST-EXTENDED.
	assert.True(t, s.Has(CapListExtended))
	assert.False(t, s.Has(CapQResync))

	s = NewCapSet("QRESYNC")
	// QRESYNC implies CONDSTORE (RFC 7162).
	assert.True(t, s.Has(CapCondStore))
}

func TestAuthMechanisms(t *testing.T) {
	s := NewCapSet("IMAP4rev1", "AUTH=PLAIN", "AUTH=LOGIN", "AUTH=XOAUTH2", "IDLE")
	mechs := s.AuthMechanisms()
	sort.Strings(mechs)
	assert.Equal(t, []string{"LOGIN", "PLAIN", "XOAUTH2"}, mechs)

	assert.Empty(t, NewCapSet("IMAP4rev1").AuthMechanisms())
}
