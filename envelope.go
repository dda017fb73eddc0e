package imapx

import (
	"strings"
	"time"
)

// FetchAttrs is a bitmask of the attributes present in one FETCH response.
type FetchAttrs uint32

const (
	FetchAttrUID FetchAttrs = 1 << iota
	FetchAttrFlags
	FetchAttrSize
	FetchAttrHeader
	FetchAttrBody
	FetchAttrBodyStructure
	FetchAttrEnvelope
	FetchAttrInternalDate
	FetchAttrModSeq
)

// Has reports whether all attributes in mask are present.
func (a FetchAttrs) Has(mask FetchAttrs) bool { return a&mask == mask }

// FetchData is the typed content of one FETCH untagged response.
type FetchData struct {
	Attrs  FetchAttrs
	SeqNum uint32

	UID           UID
	Flags         []Flag
	Size          uint32
	ModSeq        ModSeq
	InternalDate  time.Time
	Envelope      *Envelope
	BodyStructure *BodyStructure
	// Header holds the raw RFC822.HEADER (or BODY[HEADER], which servers may
	// substitute and which is treated identically) bytes.
	Header []byte
	// BodySize is the declared size of a BODY[] literal; the bytes themselves
	// are streamed to the registered body sink rather than buffered here.
	BodySize int64
}

// Address is an RFC 3501 envelope address.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// Addr returns the addr-spec ("mailbox@host") form.
func (a *Address) Addr() string {
	if a.Mailbox == "" || a.Host == "" {
		return ""
	}
	return a.Mailbox + "@" + a.Host
}

// Envelope is a parsed ENVELOPE fetch attribute.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo string
	MessageID string
}

// BodyStructure is a parsed BODYSTRUCTURE fetch attribute. Multipart parts
// carry Children and a Subtype; leaf parts carry the remaining fields.
type BodyStructure struct {
	MIMEType    string
	MIMESubType string
	Params      map[string]string
	ID          string
	Description string
	Encoding    string
	Size        uint32
	Lines       uint32

	// Multipart only.
	Children []*BodyStructure

	// Extension data.
	Disposition       string
	DispositionParams map[string]string
	Language          []string
	Location          string
}

// MediaType returns the full "type/subtype" in lower case.
func (bs *BodyStructure) MediaType() string {
	return strings.ToLower(bs.MIMEType + "/" + bs.MIMESubType)
}

// Multipart reports whether the part is a multipart container.
func (bs *BodyStructure) Multipart() bool {
	return strings.EqualFold(bs.MIMEType, "multipart")
}
