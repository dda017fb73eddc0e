package imapwire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapx"
)

func buildText(t *testing.T, format string, args ...interface{}) string {
	t.Helper()
	var b Builder
	b.Addf(format, args...)
	parts := b.Close()
	require.NoError(t, b.Err())
	require.Len(t, parts, 1)
	require.Equal(t, PartSimple, parts[0].Kind)
	return string(parts[0].Text)
}

func TestBuilderStringClassification(t *testing.T) {
	// Atom-safe strings go out bare.
	assert.Equal(t, "UNSEEN", buildText(t, "%s", "UNSEEN"))
	// Spaces force quoting.
	assert.Equal(t, `"two words"`, buildText(t, "%s", "two words"))
	// Quotes and backslashes are escaped inside quoted strings.
	assert.Equal(t, `"say \"hi\""`, buildText(t, "%s", `say "hi"`))
	// The empty string has no atom form.
	assert.Equal(t, `""`, buildText(t, "%s", ""))
}

func TestBuilderStringLiteralFallback(t *testing.T) {
	// 8-bit content cannot be quoted and becomes a literal.
	var b Builder
	b.Addf("%s", "caf\xc3\xa9")
	parts := b.Close()
	require.NoError(t, b.Err())
	require.Len(t, parts, 2)
	assert.Equal(t, "{5}", string(parts[0].Text))
	assert.Equal(t, PartString, parts[1].Kind)
	assert.Equal(t, "caf\xc3\xa9", parts[1].String)
	assert.Equal(t, int64(5), parts[1].Size)
	assert.NotZero(t, parts[1].Flags&PartContinuation)

	// With LITERAL+ the size is pre-declared and no continuation is needed.
	b = Builder{LiteralPlus: true}
	b.Addf("%s", strings.Repeat("x", 5000))
	parts = b.Close()
	require.NoError(t, b.Err())
	require.Len(t, parts, 2)
	assert.Equal(t, "{5000+}", string(parts[0].Text))
	assert.NotZero(t, parts[1].Flags&PartLiteralPlus)
}

func TestBuilderDirectives(t *testing.T) {
	assert.Equal(t, "UID FETCH 42 (FLAGS)",
		buildText(t, "UID FETCH %u (%t)", imapx.UID(42), "FLAGS"))
	assert.Equal(t, "X 100%", buildText(t, "X 100%%"))
	assert.Equal(t, "-7", buildText(t, "%d", -7))
	assert.Equal(t, "18446744073709551615", buildText(t, "%lu", uint64(1<<64-1)))
}

func TestBuilderFlagList(t *testing.T) {
	// \Recent is synthetic and never transmitted; label pseudo-flags use
	// their keyword spelling on the wire.
	got := buildText(t, "%F", []imapx.Flag{imapx.FlagSeen, imapx.FlagRecent, "important"})
	assert.Equal(t, `(\Seen $Label1)`, got)

	assert.Equal(t, "()", buildText(t, "%F", []imapx.Flag{}))
}

func TestBuilderMailbox(t *testing.T) {
	// INBOX is case-insensitive and canonical.
	assert.Equal(t, "INBOX", buildText(t, "%f", "inbox"))
	// Non-ASCII names are UTF-7 encoded, then classified like any string.
	assert.Equal(t, "Entw&APw-rfe", buildText(t, "%f", "Entwürfe"))
	assert.Equal(t, `"Sent Items"`, buildText(t, "%f", "Sent Items"))
}

func TestBuilderErrors(t *testing.T) {
	var b Builder
	b.Addf("%q", "x")
	assert.Error(t, b.Err())

	b = Builder{}
	b.Addf("%s %s", "only-one")
	assert.Error(t, b.Err())

	// The first error sticks; later Addf calls are no-ops.
	err := b.Err()
	b.Addf("%s", "fine")
	assert.Equal(t, err, b.Err())
}
