package imapwire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emersion/go-imapx"
)

func TestQResyncParams(t *testing.T) {
	uids := make([]imapx.UID, 100)
	for i := range uids {
		uids[i] = imapx.UID(i + 1)
	}
	// The sequence match sample walks back from the end with growing
	// steps: 100, then -9, then -27.
	got := QResyncParams(42, 1000, uids)
	assert.Equal(t, "QRESYNC (42 1000 1:100 (64,91,100 64,91,100))", got)
}

func TestQResyncParamsSparse(t *testing.T) {
	got := QResyncParams(42, 7, []imapx.UID{10, 20, 30})
	assert.Equal(t, "QRESYNC (42 7 10:30 (3 30))", got)
}

func TestQResyncParamsEmpty(t *testing.T) {
	// No known messages: only UIDVALIDITY and MODSEQ are sent.
	got := QResyncParams(42, 7, nil)
	assert.Equal(t, "QRESYNC (42 7)", got)
}
