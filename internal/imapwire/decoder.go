package imapwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// A Decoder reads IMAP tokens from a stream. It keeps one token of
// lookahead: every accept-style method either consumes its token or leaves
// the stream untouched.
//
// The first error encountered sticks; later calls are no-ops returning
// false.
type Decoder struct {
	r   *bufio.Reader
	err error
}

func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

func (dec *Decoder) mustUnreadByte() {
	if err := dec.r.UnreadByte(); err != nil {
		panic(fmt.Errorf("imapwire: failed to unread byte: %v", err))
	}
}

// Err returns the sticky error, if any.
func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) readByte() (byte, bool) {
	b, err := dec.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return b, dec.returnErr(err)
	}
	return b, true
}

func (dec *Decoder) acceptByte(want byte) bool {
	got, ok := dec.readByte()
	if !ok {
		return false
	} else if got != want {
		dec.mustUnreadByte()
		return false
	}
	return true
}

// EOF returns true if the stream has ended.
func (dec *Decoder) EOF() bool {
	_, err := dec.r.ReadByte()
	if err == io.EOF {
		return true
	} else if err != nil {
		return dec.returnErr(err)
	}
	dec.mustUnreadByte()
	return false
}

// Expect records a parse error naming the missing token when ok is false.
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		err := fmt.Errorf("expected %v", name)
		if dec.r.Buffered() > 0 {
			b, _ := dec.r.Peek(1)
			err = fmt.Errorf("%v, got '%v'", err, string(b))
		}
		return dec.returnErr(err)
	}
	return true
}

func (dec *Decoder) SP() bool {
	return dec.acceptByte(' ')
}

func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

func (dec *Decoder) CRLF() bool {
	return dec.acceptByte('\r') && dec.acceptByte('\n')
}

func (dec *Decoder) ExpectCRLF() bool {
	return dec.Expect(dec.CRLF(), "CRLF")
}

func (dec *Decoder) Atom(ptr *string) bool {
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		}

		var valid bool
		switch b {
		case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
			valid = false
		default:
			valid = !unicode.IsControl(rune(b))
		}
		if !valid {
			dec.mustUnreadByte()
			break
		}

		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

func (dec *Decoder) Special(b byte) bool {
	return dec.acceptByte(b)
}

func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(b)))
}

// Text reads the free-form trailer of a line, up to CRLF.
func (dec *Decoder) Text(ptr *string) bool {
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		} else if b == '\r' || b == '\n' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// Skip consumes bytes until untilCh, leaving untilCh unread.
func (dec *Decoder) Skip(untilCh byte) {
	for {
		ch, ok := dec.readByte()
		if !ok {
			return
		} else if ch == untilCh {
			dec.mustUnreadByte()
			return
		}
	}
}

// SkipLine consumes the remainder of the current line including CRLF. It is
// used to tolerate unknown untagged responses.
func (dec *Decoder) SkipLine() bool {
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}
		if ch == '\n' {
			return true
		}
	}
}

func (dec *Decoder) Number64() (v int64, ok bool) {
	var sb strings.Builder
	for {
		ch, ok := dec.readByte()
		if !ok {
			return 0, false
		} else if ch < '0' || ch > '9' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(ch)
	}
	if sb.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(sb.String(), 10, 64)
	if err != nil {
		dec.returnErr(err)
		return 0, false
	}
	return v, true
}

func (dec *Decoder) ExpectNumber64() (v int64, ok bool) {
	v, ok = dec.Number64()
	dec.Expect(ok, "number64")
	return v, ok
}

func (dec *Decoder) Number() (v uint32, ok bool) {
	v64, ok := dec.Number64()
	if !ok || v64 < 0 || v64 > int64(^uint32(0)) {
		return 0, false
	}
	return uint32(v64), true
}

func (dec *Decoder) ExpectNumber() (v uint32, ok bool) {
	v, ok = dec.Number()
	dec.Expect(ok, "number")
	return v, ok
}

func (dec *Decoder) ModSeq() (v uint64, ok bool) {
	v64, ok := dec.Number64()
	if !ok || v64 < 0 {
		return 0, false
	}
	return uint64(v64), true
}

// Quoted reads a quoted string, unescaping "\" and """.
func (dec *Decoder) Quoted(ptr *string) bool {
	if !dec.Special('"') {
		return false
	}
	var sb strings.Builder
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}
		if ch == '"' {
			break
		}
		if ch == '\\' {
			if ch, ok = dec.readByte(); !ok {
				return false
			}
		}
		sb.WriteByte(ch)
	}
	*ptr = sb.String()
	return true
}

// LiteralSize reads a literal header "{n}" or "{n+}" followed by CRLF and
// returns the declared byte count. The literal's bytes are left on the
// stream for the caller to consume.
func (dec *Decoder) LiteralSize(ptr *int64) bool {
	if !dec.Special('{') {
		return false
	}
	size, ok := dec.ExpectNumber64()
	if !ok {
		return false
	}
	dec.Special('+') // tolerated, servers don't normally send it
	if !dec.ExpectSpecial('}') || !dec.ExpectCRLF() {
		return false
	}
	*ptr = size
	return true
}

// LiteralReader returns a reader over exactly size literal bytes.
func (dec *Decoder) LiteralReader(size int64) io.Reader {
	return io.LimitReader(dec.r, size)
}

// String reads an IMAP string: quoted or literal. Literals are buffered in
// memory, so this must not be used for message bodies.
func (dec *Decoder) String(ptr *string) bool {
	if dec.Quoted(ptr) {
		return true
	}
	var size int64
	if !dec.LiteralSize(&size) {
		return false
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(dec.r, buf); err != nil {
		return dec.returnErr(err)
	}
	*ptr = string(buf)
	return true
}

func (dec *Decoder) ExpectString(ptr *string) bool {
	return dec.Expect(dec.String(ptr), "string")
}

// NString reads a string or NIL; isNil reports which.
func (dec *Decoder) NString(ptr *string) (isNil bool, ok bool) {
	if dec.NIL() {
		*ptr = ""
		return true, true
	}
	return false, dec.String(ptr)
}

// NIL consumes a NIL atom if present, using lookahead so a failed match
// leaves the stream untouched.
func (dec *Decoder) NIL() bool {
	b, err := dec.r.Peek(3)
	if err != nil || !strings.EqualFold(string(b), "NIL") {
		return false
	}
	if nb, err := dec.r.Peek(4); err == nil && IsAtomChar(nb[3]) {
		return false // e.g. the atom "NILLY"
	}
	if _, err := dec.r.Discard(3); err != nil {
		return dec.returnErr(err)
	}
	return true
}

// List reads a parenthesized list, invoking f for each element. An empty
// list "()" invokes f zero times.
func (dec *Decoder) List(f func() error) error {
	if !dec.ExpectSpecial('(') {
		return dec.Err()
	}
	if dec.Special(')') {
		return nil
	}
	for {
		if err := f(); err != nil {
			return err
		}
		if dec.Special(')') {
			return nil
		}
		if !dec.ExpectSP() {
			return dec.Err()
		}
	}
}
