package imapwire

import (
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/utf7"
)

// DateTimeLayout is the INTERNALDATE date-time format of RFC 3501
// section 9, also used when building APPEND commands.
const DateTimeLayout = "_2-Jan-2006 15:04:05 -0700"

const internalDateLayout = DateTimeLayout

// ReadCapabilities reads capability-data: atoms until end of line.
func ReadCapabilities(dec *Decoder) (imapx.CapSet, error) {
	var caps []string
	for dec.SP() {
		var name string
		if !dec.ExpectAtom(&name) {
			return nil, fmt.Errorf("in capability-data: %w", dec.Err())
		}
		caps = append(caps, name)
	}
	return imapx.NewCapSet(caps...), nil
}

// ReadFlag reads a single flag or mailbox attribute.
func ReadFlag(dec *Decoder) (string, error) {
	isSystem := dec.Special('\\')
	if isSystem && dec.Special('*') {
		return "\\*", nil // flag-perm
	}
	var name string
	if !dec.ExpectAtom(&name) {
		return "", fmt.Errorf("in flag: %w", dec.Err())
	}
	if isSystem {
		name = "\\" + name
	}
	return name, nil
}

// ReadFlagList reads a parenthesized flag list, mapping known flags through
// the fixed table, applying the label keyword rename, and retaining unknown
// flags verbatim as user flags.
func ReadFlagList(dec *Decoder) ([]imapx.Flag, error) {
	var flags []imapx.Flag
	err := dec.List(func() error {
		raw, err := ReadFlag(dec)
		if err != nil {
			return err
		}
		flags = append(flags, imapx.FlagFromWire(imapx.Flag(raw)))
		return nil
	})
	return flags, err
}

// ReadStatusResponse reads resp-text with its optional bracketed code and
// condition-specific payload. The leading SP has already been consumed.
func ReadStatusResponse(dec *Decoder, typ imapx.StatusType) (*imapx.StatusResponse, error) {
	resp := &imapx.StatusResponse{Type: typ}
	if dec.Special('[') {
		var code string
		if !dec.ExpectAtom(&code) {
			return nil, fmt.Errorf("in resp-text-code: %w", dec.Err())
		}
		resp.Code = imapx.ResponseCode(strings.ToUpper(code))
		if err := readRespCodePayload(dec, resp); err != nil {
			return nil, err
		}
		if !dec.ExpectSpecial(']') {
			return nil, fmt.Errorf("in resp-text: %w", dec.Err())
		}
		dec.SP()
	}
	dec.Text(&resp.Text) // empty trailing text is tolerated
	return resp, nil
}

func readRespCodePayload(dec *Decoder, resp *imapx.StatusResponse) error {
	var err error
	switch resp.Code {
	case imapx.CodeCapability:
		resp.Capabilities, err = ReadCapabilities(dec)
	case imapx.CodeAppendUID:
		appendData := &imapx.AppendData{}
		if !dec.ExpectSP() {
			return dec.Err()
		}
		if appendData.UIDValidity, _ = dec.ExpectNumber(); dec.Err() != nil {
			return dec.Err()
		}
		if !dec.ExpectSP() {
			return dec.Err()
		}
		uid, _ := dec.ExpectNumber()
		appendData.UID = imapx.UID(uid)
		resp.AppendUID = appendData
	case imapx.CodeCopyUID:
		copyData := &imapx.CopyData{}
		if !dec.ExpectSP() {
			return dec.Err()
		}
		if copyData.UIDValidity, _ = dec.ExpectNumber(); dec.Err() != nil {
			return dec.Err()
		}
		var src, dst string
		if !dec.ExpectSP() || !dec.ExpectAtom(&src) || !dec.ExpectSP() || !dec.ExpectAtom(&dst) {
			return dec.Err()
		}
		if copyData.SourceUIDs, err = imapx.ParseUIDSet(src); err != nil {
			return err
		}
		if copyData.DestUIDs, err = imapx.ParseUIDSet(dst); err != nil {
			return err
		}
		resp.CopyUID = copyData
	case imapx.CodeHighestModSeq:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		v, _ := dec.ModSeq()
		resp.HighestModSeq = imapx.ModSeq(v)
	case imapx.CodeUIDNext:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		v, _ := dec.ExpectNumber()
		resp.UIDNext = imapx.UID(v)
	case imapx.CodeUIDValidity:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		resp.UIDValidity, _ = dec.ExpectNumber()
	case imapx.CodeUnseen:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		resp.Unseen, _ = dec.ExpectNumber()
	case imapx.CodePermanentFlags:
		if !dec.ExpectSP() {
			return dec.Err()
		}
		resp.PermanentFlags, err = ReadFlagList(dec)
	case imapx.CodeNewName:
		var oldName string
		if !dec.ExpectSP() || !dec.ExpectString(&oldName) || !dec.ExpectSP() || !dec.ExpectString(&resp.NewName) {
			return dec.Err()
		}
	default:
		// Unknown and RFC 5530 codes: optional free text up to ']'.
		if dec.SP() {
			dec.Skip(']')
		}
	}
	if err == nil {
		err = dec.Err()
	}
	return err
}

// FetchBodySink receives a BODY[] literal as it is parsed. offset is the
// origin octet of a partial fetch ("<n>" suffix), -1 when absent. The sink
// must consume r fully.
type FetchBodySink func(offset int64, size int64, r io.Reader) error

// ReadFetchData reads msg-att (everything after "* n FETCH "). Body
// literals stream through sink; all other attributes are buffered into the
// returned FetchData with a bitmask of what was present.
func ReadFetchData(dec *Decoder, seqNum uint32, sink FetchBodySink) (*imapx.FetchData, error) {
	data := &imapx.FetchData{SeqNum: seqNum}
	err := dec.List(func() error {
		var attr string
		if !dec.ExpectAtom(&attr) {
			return fmt.Errorf("in msg-att: %w", dec.Err())
		}
		return readFetchAttr(dec, data, strings.ToUpper(attr), sink)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func readFetchAttr(dec *Decoder, data *imapx.FetchData, attr string, sink FetchBodySink) error {
	// Section-bearing attributes parse as "BODY[..." because ']' terminates
	// the atom.
	if section, ok := strings.CutPrefix(attr, "BODY["); ok {
		if !dec.ExpectSpecial(']') {
			return dec.Err()
		}
		return readFetchBody(dec, data, section, sink)
	}

	switch attr {
	case "UID":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		uid, _ := dec.ExpectNumber()
		data.UID = imapx.UID(uid)
		data.Attrs |= imapx.FetchAttrUID
	case "FLAGS":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		flags, err := ReadFlagList(dec)
		if err != nil {
			return err
		}
		data.Flags = flags
		data.Attrs |= imapx.FetchAttrFlags
	case "RFC822.SIZE":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		data.Size, _ = dec.ExpectNumber()
		data.Attrs |= imapx.FetchAttrSize
	case "RFC822.HEADER":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		header, err := readLiteralBytes(dec)
		if err != nil {
			return err
		}
		data.Header = header
		data.Attrs |= imapx.FetchAttrHeader
	case "INTERNALDATE":
		var s string
		if !dec.ExpectSP() || !dec.Expect(dec.Quoted(&s), "quoted") {
			return dec.Err()
		}
		t, err := time.Parse(internalDateLayout, s)
		if err != nil {
			return fmt.Errorf("in internaldate: %w", err)
		}
		data.InternalDate = t
		data.Attrs |= imapx.FetchAttrInternalDate
	case "MODSEQ":
		if !dec.ExpectSP() || !dec.ExpectSpecial('(') {
			return dec.Err()
		}
		v, _ := dec.ModSeq()
		data.ModSeq = imapx.ModSeq(v)
		if !dec.ExpectSpecial(')') {
			return dec.Err()
		}
		data.Attrs |= imapx.FetchAttrModSeq
	case "ENVELOPE":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		envelope, err := ReadEnvelope(dec)
		if err != nil {
			return err
		}
		data.Envelope = envelope
		data.Attrs |= imapx.FetchAttrEnvelope
	case "BODYSTRUCTURE", "BODY":
		if !dec.ExpectSP() {
			return dec.Err()
		}
		bs, err := ReadBodyStructure(dec)
		if err != nil {
			return err
		}
		data.BodyStructure = bs
		data.Attrs |= imapx.FetchAttrBodyStructure
	default:
		return fmt.Errorf("unknown msg-att %q", attr)
	}
	return nil
}

func readFetchBody(dec *Decoder, data *imapx.FetchData, section string, sink FetchBodySink) error {
	offset := int64(-1)
	if dec.Special('<') {
		v, ok := dec.ExpectNumber64()
		if !ok || !dec.ExpectSpecial('>') {
			return dec.Err()
		}
		offset = v
	}
	if !dec.ExpectSP() {
		return dec.Err()
	}

	// A server answering BODY[HEADER] where RFC822.HEADER was asked is
	// treated identically to RFC822.HEADER.
	if strings.EqualFold(section, "HEADER") {
		header, err := readLiteralBytes(dec)
		if err != nil {
			return err
		}
		data.Header = header
		data.Attrs |= imapx.FetchAttrHeader
		return nil
	}

	if section != "" {
		return fmt.Errorf("unsupported body section %q", section)
	}

	var size int64
	if !dec.Expect(dec.LiteralSize(&size), "literal") {
		return dec.Err()
	}
	data.Attrs |= imapx.FetchAttrBody
	data.BodySize = size
	r := dec.LiteralReader(size)
	if sink == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	if err := sink(offset, size, r); err != nil {
		return err
	}
	// The sink may not have consumed everything on its own error paths.
	_, err := io.Copy(io.Discard, r)
	return err
}

// readLiteralBytes buffers a literal or quoted string; used for headers,
// which are small.
func readLiteralBytes(dec *Decoder) ([]byte, error) {
	var s string
	if isNil, ok := dec.NString(&s); !ok {
		return nil, fmt.Errorf("in nstring: %w", dec.Err())
	} else if isNil {
		return nil, nil
	}
	return []byte(s), nil
}

// ReadEnvelope reads the ENVELOPE structure (RFC 3501 section 7.4.2).
func ReadEnvelope(dec *Decoder) (*imapx.Envelope, error) {
	env := &imapx.Envelope{}
	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}

	var dateStr string
	if isNil, ok := dec.NString(&dateStr); !ok {
		return nil, fmt.Errorf("in envelope date: %w", dec.Err())
	} else if !isNil {
		// Malformed dates are common in the wild; tolerate them.
		if t, err := mail.ParseDate(dateStr); err == nil {
			env.Date = t
		}
	}

	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&env.Subject); !ok {
		return nil, fmt.Errorf("in envelope subject: %w", dec.Err())
	}

	for _, ptr := range []*[]imapx.Address{&env.From, &env.Sender, &env.ReplyTo, &env.To, &env.Cc, &env.Bcc} {
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		addrs, err := readAddressList(dec)
		if err != nil {
			return nil, err
		}
		*ptr = addrs
	}

	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&env.InReplyTo); !ok {
		return nil, fmt.Errorf("in envelope in-reply-to: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&env.MessageID); !ok {
		return nil, fmt.Errorf("in envelope message-id: %w", dec.Err())
	}

	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	return env, nil
}

func readAddressList(dec *Decoder) ([]imapx.Address, error) {
	if dec.NIL() {
		return nil, nil
	}
	var addrs []imapx.Address
	err := dec.List(func() error {
		addr, err := readAddress(dec)
		if err != nil {
			return err
		}
		// Group markers (mailbox non-NIL, host NIL) are skipped.
		if addr != nil {
			addrs = append(addrs, *addr)
		}
		return nil
	})
	return addrs, err
}

func readAddress(dec *Decoder) (*imapx.Address, error) {
	var (
		addr imapx.Address
		adl  string
	)
	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}
	var hostNil bool
	if _, ok := dec.NString(&addr.Name); !ok {
		return nil, fmt.Errorf("in address name: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&adl); !ok {
		return nil, fmt.Errorf("in address adl: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&addr.Mailbox); !ok {
		return nil, fmt.Errorf("in address mailbox: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if hostNil, _ = dec.NString(&addr.Host); dec.Err() != nil {
		return nil, fmt.Errorf("in address host: %w", dec.Err())
	}
	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	if hostNil {
		return nil, nil // group start/end marker
	}
	return &addr, nil
}

// ReadBodyStructure reads a body or bodystructure value, recursing into
// multipart children.
func ReadBodyStructure(dec *Decoder) (*imapx.BodyStructure, error) {
	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}

	return readBodyStructureInner(dec)
}

// readBodyStructureInner parses a body whose opening parenthesis has
// already been consumed.
func readBodyStructureInner(dec *Decoder) (*imapx.BodyStructure, error) {
	bs := &imapx.BodyStructure{}
	if dec.Special('(') {
		// body-type-mpart: 1*body SP subtype [ext]
		bs.MIMEType = "multipart"
		for {
			child, err := readBodyStructureInner(dec)
			if err != nil {
				return nil, err
			}
			bs.Children = append(bs.Children, child)
			if !dec.Special('(') {
				break
			}
		}
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		if _, ok := dec.NString(&bs.MIMESubType); !ok {
			return nil, fmt.Errorf("in media-subtype: %w", dec.Err())
		}
		if err := skipBodyExtension(dec); err != nil {
			return nil, err
		}
		return bs, nil
	}
	return readBodyLeaf(dec, bs)
}

func readBodyLeaf(dec *Decoder, bs *imapx.BodyStructure) (*imapx.BodyStructure, error) {
	if _, ok := dec.NString(&bs.MIMEType); !ok {
		return nil, fmt.Errorf("in media-type: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&bs.MIMESubType); !ok {
		return nil, fmt.Errorf("in media-subtype: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	params, err := readBodyParams(dec)
	if err != nil {
		return nil, err
	}
	bs.Params = params
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&bs.ID); !ok {
		return nil, fmt.Errorf("in body id: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&bs.Description); !ok {
		return nil, fmt.Errorf("in body description: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if _, ok := dec.NString(&bs.Encoding); !ok {
		return nil, fmt.Errorf("in body encoding: %w", dec.Err())
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	bs.Size, _ = dec.ExpectNumber()
	if dec.Err() != nil {
		return nil, dec.Err()
	}

	if strings.EqualFold(bs.MIMEType, "message") && strings.EqualFold(bs.MIMESubType, "rfc822") {
		// message/rfc822: SP envelope SP body SP lines
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		if _, err := ReadEnvelope(dec); err != nil {
			return nil, err
		}
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		child, err := ReadBodyStructure(dec)
		if err != nil {
			return nil, err
		}
		bs.Children = append(bs.Children, child)
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		bs.Lines, _ = dec.ExpectNumber()
	} else if strings.EqualFold(bs.MIMEType, "text") {
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		bs.Lines, _ = dec.ExpectNumber()
	}
	if dec.Err() != nil {
		return nil, dec.Err()
	}

	if err := skipBodyExtension(dec); err != nil {
		return nil, err
	}
	return bs, nil
}

func readBodyParams(dec *Decoder) (map[string]string, error) {
	if dec.NIL() {
		return nil, nil
	}
	params := make(map[string]string)
	var key string
	first := true
	err := dec.List(func() error {
		var s string
		if _, ok := dec.NString(&s); !ok {
			return fmt.Errorf("in body params: %w", dec.Err())
		}
		if first {
			key = strings.ToLower(s)
		} else {
			params[key] = s
		}
		first = !first
		return nil
	})
	return params, err
}

// skipBodyExtension discards the optional extension data up to the closing
// parenthesis of the current body, balancing nested lists, quoted strings
// and literals.
func skipBodyExtension(dec *Decoder) error {
	depth := 1
	for depth > 0 {
		var (
			s    string
			size int64
		)
		switch {
		case dec.Special('('):
			depth++
		case dec.Special(')'):
			depth--
		case dec.SP():
		case dec.Quoted(&s):
		case dec.LiteralSize(&size):
			if _, err := io.Copy(io.Discard, dec.LiteralReader(size)); err != nil {
				dec.returnErr(err)
				return dec.Err()
			}
		case dec.Atom(&s):
		default:
			return fmt.Errorf("in body-ext: %w", dec.Err())
		}
		if dec.Err() != nil {
			return dec.Err()
		}
	}
	return nil
}

// ReadListData reads the remainder of a LIST or LSUB response: attribute
// list, delimiter, mailbox name (decoded from UTF-7).
func ReadListData(dec *Decoder) (*imapx.MailboxInfo, error) {
	info := &imapx.MailboxInfo{}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	err := dec.List(func() error {
		attr, err := ReadFlag(dec)
		if err != nil {
			return err
		}
		info.Attrs = append(info.Attrs, attr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	if !dec.NIL() {
		var delim string
		if !dec.Expect(dec.Quoted(&delim), "quoted delimiter") {
			return nil, dec.Err()
		}
		info.Delimiter = delim
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}
	name, err := readMailboxName(dec)
	if err != nil {
		return nil, err
	}
	info.Name = name
	return info, nil
}

func readMailboxName(dec *Decoder) (string, error) {
	var raw string
	if !dec.Quoted(&raw) && !dec.Atom(&raw) && !dec.String(&raw) {
		return "", fmt.Errorf("in mailbox: %w", dec.Err())
	}
	if strings.EqualFold(raw, "INBOX") {
		return "INBOX", nil
	}
	decoded, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		// Not every server encodes names; fall back to the raw form.
		return raw, nil
	}
	return decoded, nil
}

// ReadStatusData reads the remainder of a STATUS response: mailbox and
// status-att list.
func ReadStatusData(dec *Decoder) (string, imapx.MailboxCounts, error) {
	var counts imapx.MailboxCounts
	if !dec.ExpectSP() {
		return "", counts, dec.Err()
	}
	mailbox, err := readMailboxName(dec)
	if err != nil {
		return "", counts, err
	}
	if !dec.ExpectSP() {
		return "", counts, dec.Err()
	}
	err = dec.List(func() error {
		var name string
		if !dec.ExpectAtom(&name) || !dec.ExpectSP() {
			return dec.Err()
		}
		v, ok := dec.ExpectNumber64()
		if !ok {
			return dec.Err()
		}
		switch strings.ToUpper(name) {
		case "MESSAGES":
			counts.Messages = uint32(v)
		case "UNSEEN":
			counts.Unseen = uint32(v)
		case "RECENT":
			counts.Recent = uint32(v)
		case "UIDNEXT":
			counts.UIDNext = imapx.UID(v)
		case "UIDVALIDITY":
			counts.UIDValidity = uint32(v)
		case "HIGHESTMODSEQ":
			counts.HighestModSeq = imapx.ModSeq(v)
		default:
			// unknown status-att, value already consumed
		}
		return nil
	})
	return mailbox, counts, err
}

// ReadSearchData reads the remainder of a SEARCH response: numbers until
// end of line.
func ReadSearchData(dec *Decoder) ([]imapx.UID, error) {
	var uids []imapx.UID
	for dec.SP() {
		v, ok := dec.Number()
		if !ok {
			break
		}
		uids = append(uids, imapx.UID(v))
	}
	return uids, dec.Err()
}

// ReadVanished reads the remainder of a VANISHED response: an optional
// "(EARLIER)" qualifier and a UID set.
func ReadVanished(dec *Decoder) (earlier bool, uids imapx.UIDSet, err error) {
	if !dec.ExpectSP() {
		return false, uids, dec.Err()
	}
	if dec.Special('(') {
		var qualifier string
		if !dec.ExpectAtom(&qualifier) || !dec.ExpectSpecial(')') || !dec.ExpectSP() {
			return false, uids, dec.Err()
		}
		earlier = strings.EqualFold(qualifier, "EARLIER")
	}
	var raw string
	if !dec.ExpectAtom(&raw) {
		return false, uids, dec.Err()
	}
	uids, err = imapx.ParseUIDSet(raw)
	return earlier, uids, err
}

// NamespaceData is the server's personal namespace (RFC 2342). Only the
// first personal namespace is retained; other-user and shared namespaces
// are outside the engine's scope.
type NamespaceData struct {
	Prefix    string
	Delimiter string
}

// ReadNamespace reads the remainder of a NAMESPACE response: three
// namespace lists (personal, other users, shared), each NIL or a list of
// (prefix delimiter [extensions]) descriptors.
func ReadNamespace(dec *Decoder) (*NamespaceData, error) {
	var data *NamespaceData
	for i := 0; i < 3; i++ {
		if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		if dec.NIL() {
			continue
		}
		personal := i == 0
		err := dec.List(func() error {
			if !dec.ExpectSpecial('(') {
				return dec.Err()
			}
			var prefix, delim string
			if !dec.ExpectString(&prefix) || !dec.ExpectSP() {
				return dec.Err()
			}
			if _, ok := dec.NString(&delim); !ok {
				return dec.Err()
			}
			for dec.SP() {
				var extName string
				if !dec.ExpectString(&extName) || !dec.ExpectSP() {
					return dec.Err()
				}
				err := dec.List(func() error {
					var v string
					if !dec.ExpectString(&v) {
						return dec.Err()
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if !dec.ExpectSpecial(')') {
				return dec.Err()
			}
			if personal && data == nil {
				decoded, err := utf7.Encoding.NewDecoder().String(prefix)
				if err != nil {
					decoded = prefix
				}
				data = &NamespaceData{Prefix: decoded, Delimiter: delim}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if data == nil {
		data = &NamespaceData{}
	}
	return data, nil
}

// ReadQuotaData reads the remainder of a QUOTA response: root name and
// resource triplets.
func ReadQuotaData(dec *Decoder) (string, []imapx.QuotaInfo, error) {
	if !dec.ExpectSP() {
		return "", nil, dec.Err()
	}
	var root string
	if !dec.Expect(dec.Quoted(&root) || dec.Atom(&root) || dec.String(&root), "quota root") {
		return "", nil, dec.Err()
	}
	if !dec.ExpectSP() {
		return "", nil, dec.Err()
	}
	var quotas []imapx.QuotaInfo
	i := 0
	q := imapx.QuotaInfo{Root: root}
	err := dec.List(func() error {
		switch i % 3 {
		case 0:
			if !dec.ExpectAtom(&q.Name) {
				return dec.Err()
			}
		case 1:
			v, ok := dec.ExpectNumber64()
			if !ok {
				return dec.Err()
			}
			q.Used = uint64(v)
		case 2:
			v, ok := dec.ExpectNumber64()
			if !ok {
				return dec.Err()
			}
			q.Limit = uint64(v)
			quotas = append(quotas, q)
			q = imapx.QuotaInfo{Root: root}
		}
		i++
		return nil
	})
	return root, quotas, err
}
