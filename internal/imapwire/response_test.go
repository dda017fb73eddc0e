package imapwire

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapx"
)

func newDec(s string) *Decoder {
	return NewDecoder(bufio.NewReader(strings.NewReader(s)))
}

func TestReadStatusResponseAppendUID(t *testing.T) {
	resp, err := ReadStatusResponse(newDec("[APPENDUID 38505 3955] APPEND completed\r\n"), imapx.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, imapx.CodeAppendUID, resp.Code)
	require.NotNil(t, resp.AppendUID)
	assert.Equal(t, uint32(38505), resp.AppendUID.UIDValidity)
	assert.Equal(t, imapx.UID(3955), resp.AppendUID.UID)
	assert.Equal(t, "APPEND completed", resp.Text)
}

func TestReadStatusResponseCopyUID(t *testing.T) {
	resp, err := ReadStatusResponse(newDec("[COPYUID 38505 304,319:320 3956:3958] Done\r\n"), imapx.StatusOK)
	require.NoError(t, err)
	require.NotNil(t, resp.CopyUID)
	assert.Equal(t, uint32(38505), resp.CopyUID.UIDValidity)
	assert.Equal(t, []imapx.UID{304, 319, 320}, resp.CopyUID.SourceUIDs.Nums())
	assert.Equal(t, []imapx.UID{3956, 3957, 3958}, resp.CopyUID.DestUIDs.Nums())
}

func TestReadStatusResponsePermanentFlags(t *testing.T) {
	resp, err := ReadStatusResponse(newDec(`[PERMANENTFLAGS (\Deleted \Seen \*)] Limited`+"\r\n"), imapx.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, []imapx.Flag{imapx.FlagDeleted, imapx.FlagSeen, `\*`}, resp.PermanentFlags)
}

func TestReadStatusResponseUnknownCode(t *testing.T) {
	// RFC 5530 and future codes carry free text that must be skipped
	// without breaking the parse.
	resp, err := ReadStatusResponse(newDec("[UNAVAILABLE] Backend down for maintenance\r\n"), imapx.StatusNo)
	require.NoError(t, err)
	assert.Equal(t, imapx.ResponseCode("UNAVAILABLE"), resp.Code)
	assert.Equal(t, "Backend down for maintenance", resp.Text)

	resp, err = ReadStatusResponse(newDec("[BADCHARSET (UTF-8)] bad\r\n"), imapx.StatusNo)
	require.NoError(t, err)
	assert.Equal(t, imapx.ResponseCode("BADCHARSET"), resp.Code)
}

func TestReadStatusResponsePlainText(t *testing.T) {
	resp, err := ReadStatusResponse(newDec("LOGIN completed\r\n"), imapx.StatusOK)
	require.NoError(t, err)
	assert.Equal(t, imapx.ResponseCode(""), resp.Code)
	assert.Equal(t, "LOGIN completed", resp.Text)
}

func TestReadFetchDataAttrs(t *testing.T) {
	in := `(UID 5 FLAGS (\Seen $Label1) RFC822.SIZE 1024 INTERNALDATE "17-Jul-1996 02:44:25 -0700" MODSEQ (65402))` + "\r\n"
	data, err := ReadFetchData(newDec(in), 3, nil)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), data.SeqNum)
	assert.Equal(t, imapx.UID(5), data.UID)
	// The label keyword is renamed on read.
	assert.Equal(t, []imapx.Flag{imapx.FlagSeen, "important"}, data.Flags)
	assert.Equal(t, uint32(1024), data.Size)
	assert.Equal(t, 1996, data.InternalDate.Year())
	assert.Equal(t, imapx.ModSeq(65402), data.ModSeq)
	for _, attr := range []imapx.FetchAttrs{
		imapx.FetchAttrUID, imapx.FetchAttrFlags, imapx.FetchAttrSize,
		imapx.FetchAttrInternalDate, imapx.FetchAttrModSeq,
	} {
		assert.NotZero(t, data.Attrs&attr)
	}
}

func TestReadFetchDataBodySink(t *testing.T) {
	var (
		gotOffset int64
		gotBody   string
	)
	sink := func(offset, size int64, r io.Reader) error {
		gotOffset = offset
		b, err := io.ReadAll(r)
		gotBody = string(b)
		return err
	}

	in := "(UID 5 BODY[] {11}\r\nhello world)\r\n"
	data, err := ReadFetchData(newDec(in), 1, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), gotOffset)
	assert.Equal(t, "hello world", gotBody)
	assert.Equal(t, int64(11), data.BodySize)
	assert.NotZero(t, data.Attrs&imapx.FetchAttrBody)

	// Partial fetches report the origin octet.
	in = "(UID 5 BODY[]<1024> {3}\r\nabc)\r\n"
	_, err = ReadFetchData(newDec(in), 1, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), gotOffset)
	assert.Equal(t, "abc", gotBody)
}

func TestReadFetchDataHeaderSection(t *testing.T) {
	header := "Subject: Hi\r\n\r\n"
	in := "(BODY[HEADER] {15}\r\n" + header + ")\r\n"
	data, err := ReadFetchData(newDec(in), 1, nil)
	require.NoError(t, err)
	// BODY[HEADER] is equivalent to RFC822.HEADER.
	assert.Equal(t, header, string(data.Header))
	assert.NotZero(t, data.Attrs&imapx.FetchAttrHeader)
}

func TestReadVanished(t *testing.T) {
	earlier, uids, err := ReadVanished(newDec(" (EARLIER) 41,43:45\r\n"))
	require.NoError(t, err)
	assert.True(t, earlier)
	assert.Equal(t, []imapx.UID{41, 43, 44, 45}, uids.Nums())

	earlier, uids, err = ReadVanished(newDec(" 300\r\n"))
	require.NoError(t, err)
	assert.False(t, earlier)
	assert.Equal(t, []imapx.UID{300}, uids.Nums())
}

func TestReadListData(t *testing.T) {
	info, err := ReadListData(newDec(` (\Noselect \HasChildren) "/" Entw&APw-rfe` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`\Noselect`, `\HasChildren`}, info.Attrs)
	assert.Equal(t, "/", info.Delimiter)
	assert.Equal(t, "Entwürfe", info.Name)

	// NIL delimiter for flat namespaces.
	info, err = ReadListData(newDec(" () NIL inbox\r\n"))
	require.NoError(t, err)
	assert.Empty(t, info.Delimiter)
	assert.Equal(t, "INBOX", info.Name)
}

func TestReadStatusData(t *testing.T) {
	mailbox, counts, err := ReadStatusData(newDec(` "INBOX" (MESSAGES 231 UIDNEXT 44292 UNSEEN 3 HIGHESTMODSEQ 912)` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "INBOX", mailbox)
	assert.Equal(t, uint32(231), counts.Messages)
	assert.Equal(t, imapx.UID(44292), counts.UIDNext)
	assert.Equal(t, uint32(3), counts.Unseen)
	assert.Equal(t, imapx.ModSeq(912), counts.HighestModSeq)
}

func TestReadNamespace(t *testing.T) {
	data, err := ReadNamespace(newDec(` (("INBOX." ".")) NIL NIL` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "INBOX.", data.Prefix)
	assert.Equal(t, ".", data.Delimiter)

	// All namespaces NIL: an empty personal namespace.
	data, err = ReadNamespace(newDec(" NIL NIL NIL\r\n"))
	require.NoError(t, err)
	assert.Empty(t, data.Prefix)
}

func TestReadQuotaData(t *testing.T) {
	root, quotas, err := ReadQuotaData(newDec(` "" (STORAGE 10 512 MESSAGE 20 5000)` + "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "", root)
	require.Len(t, quotas, 2)
	assert.Equal(t, "STORAGE", quotas[0].Name)
	assert.Equal(t, uint64(10), quotas[0].Used)
	assert.Equal(t, uint64(512), quotas[0].Limit)
	assert.Equal(t, "MESSAGE", quotas[1].Name)
}

func TestReadEnvelope(t *testing.T) {
	in := `("Wed, 17 Jul 1996 02:23:25 -0700 (PDT)" "IMAP4rev1 WG mtg summary" ` +
		`(("Terry Gray" NIL "gray" "cac.washington.edu")) ` +
		`(("Terry Gray" NIL "gray" "cac.washington.edu")) ` +
		`(("Terry Gray" NIL "gray" "cac.washington.edu")) ` +
		`((NIL NIL "imap" "cac.washington.edu")) ` +
		`((NIL NIL "minutes" "CNRI.Reston.VA.US") ("John Klensin" NIL "KLENSIN" "MIT.EDU")) ` +
		`NIL NIL "<B27397-0100000@cac.washington.edu>")`
	env, err := ReadEnvelope(newDec(in))
	require.NoError(t, err)

	assert.Equal(t, "IMAP4rev1 WG mtg summary", env.Subject)
	assert.Equal(t, 1996, env.Date.Year())
	require.Len(t, env.From, 1)
	assert.Equal(t, "Terry Gray", env.From[0].Name)
	assert.Equal(t, "gray", env.From[0].Mailbox)
	assert.Equal(t, "cac.washington.edu", env.From[0].Host)
	require.Len(t, env.Cc, 2)
	assert.Equal(t, "KLENSIN", env.Cc[1].Mailbox)
	assert.Empty(t, env.Bcc)
	assert.Equal(t, "<B27397-0100000@cac.washington.edu>", env.MessageID)
}

func TestReadBodyStructureMultipart(t *testing.T) {
	in := `((("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "7BIT" 1152 23)` +
		`("TEXT" "HTML" ("CHARSET" "UTF-8") NIL NIL "QUOTED-PRINTABLE" 4520 98) "ALTERNATIVE")` +
		`("IMAGE" "PNG" ("NAME" "pic.png") NIL NIL "BASE64" 73920) "MIXED")`
	bs, err := ReadBodyStructure(newDec(in))
	require.NoError(t, err)

	assert.Equal(t, "multipart", bs.MIMEType)
	assert.Equal(t, "MIXED", bs.MIMESubType)
	require.Len(t, bs.Children, 2)

	alt := bs.Children[0]
	assert.Equal(t, "multipart", alt.MIMEType)
	assert.Equal(t, "ALTERNATIVE", alt.MIMESubType)
	require.Len(t, alt.Children, 2)
	assert.Equal(t, "PLAIN", alt.Children[0].MIMESubType)
	assert.Equal(t, uint32(23), alt.Children[0].Lines)
	assert.Equal(t, map[string]string{"charset": "UTF-8"}, alt.Children[0].Params)

	img := bs.Children[1]
	assert.Equal(t, "IMAGE", img.MIMEType)
	assert.Equal(t, uint32(73920), img.Size)
}
