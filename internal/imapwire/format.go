package imapwire

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-sasl"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/utf7"
)

// A Builder renders a command's payload from printf-like directives into an
// ordered part list. Directives:
//
//	%s  string, auto-classified as atom, quoted string or literal
//	%t  raw token, no escaping (caller guarantees IMAP safety)
//	%d  signed integer (optional 'l' modifier for 64-bit)
//	%u  unsigned integer (optional 'l' modifier for 64-bit)
//	%c  single character
//	%F  flag list, parenthesized; skips \Recent, renames label keywords
//	%A  SASL client: mechanism atom plus a continuation-driven AUTH part
//	%S  io.ReadSeeker literal, sized by seeking and restoring the cursor
//	%D  *message.Entity literal, sized by a serialization probe
//	%P  file path literal, sized by stat
//	%f  mailbox name, UTF-7 encoded wire form
//	%%  literal percent, \\ literal backslash
//
// Literal-bearing directives emit "{size+}" when the connection supports
// LITERAL+, else "{size}" plus a continuation-gated part.
type Builder struct {
	// LiteralPlus marks literals non-synchronizing.
	LiteralPlus bool

	text  bytes.Buffer
	parts []Part
	err   error
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first build error.
func (b *Builder) Err() error { return b.err }

// Addf appends directive-driven content to the in-progress text buffer.
func (b *Builder) Addf(format string, args ...interface{}) {
	if b.err != nil {
		return
	}
	argi := 0
	nextArg := func() (interface{}, bool) {
		if argi >= len(args) {
			b.setErr(fmt.Errorf("imapwire: format %q: not enough arguments", format))
			return nil, false
		}
		arg := args[argi]
		argi++
		return arg, true
	}

	for i := 0; i < len(format); i++ {
		ch := format[i]
		switch ch {
		case '\\':
			if i+1 < len(format) {
				i++
				b.text.WriteByte(format[i])
			}
			continue
		case '%':
		default:
			b.text.WriteByte(ch)
			continue
		}

		i++
		if i >= len(format) {
			b.setErr(fmt.Errorf("imapwire: format %q: trailing %%", format))
			return
		}
		long := false
		if format[i] == 'l' {
			long = true
			i++
			if i >= len(format) {
				b.setErr(fmt.Errorf("imapwire: format %q: trailing %%l", format))
				return
			}
		}

		switch format[i] {
		case '%':
			b.text.WriteByte('%')
		case 's':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.addString(toString(arg))
		case 't':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.text.WriteString(toString(arg))
		case 'd':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.text.WriteString(strconv.FormatInt(toInt64(arg, long), 10))
		case 'u':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.text.WriteString(strconv.FormatUint(toUint64(arg, long), 10))
		case 'c':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.text.WriteByte(toByte(arg))
		case 'F':
			arg, ok := nextArg()
			if !ok {
				return
			}
			flags, _ := arg.([]imapx.Flag)
			b.addFlagList(flags)
		case 'A':
			arg, ok := nextArg()
			if !ok {
				return
			}
			client, _ := arg.(sasl.Client)
			b.addAuth(client)
		case 'S':
			arg, ok := nextArg()
			if !ok {
				return
			}
			rs, _ := arg.(io.ReadSeeker)
			b.addStream(rs)
		case 'D':
			arg, ok := nextArg()
			if !ok {
				return
			}
			entity, _ := arg.(*message.Entity)
			b.addWrapper(entity)
		case 'P':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.addFile(toString(arg))
		case 'f':
			arg, ok := nextArg()
			if !ok {
				return
			}
			b.addMailbox(toString(arg))
		default:
			b.setErr(fmt.Errorf("imapwire: unknown directive %%%c", format[i]))
			return
		}
	}
}

// Close flushes pending text into a final simple part and returns the part
// list. It is a no-op when called twice.
func (b *Builder) Close() []Part {
	b.flushText()
	return b.parts
}

func (b *Builder) flushText() {
	if b.text.Len() == 0 {
		return
	}
	text := make([]byte, b.text.Len())
	copy(text, b.text.Bytes())
	b.parts = append(b.parts, Part{Kind: PartSimple, Text: text})
	b.text.Reset()
}

// addString classifies s: all atom-safe characters go out bare, quotable
// strings are backslash-escaped inside quotes, everything else (NUL, very
// long, 8-bit) falls back to a literal.
func (b *Builder) addString(s string) {
	switch classifyString(s) {
	case stringAtom:
		b.text.WriteString(s)
	case stringQuoted:
		b.text.WriteByte('"')
		for i := 0; i < len(s); i++ {
			if s[i] == '"' || s[i] == '\\' {
				b.text.WriteByte('\\')
			}
			b.text.WriteByte(s[i])
		}
		b.text.WriteByte('"')
	default:
		b.addLiteral(Part{Kind: PartString, String: s, Size: int64(len(s))})
	}
}

type stringClass int

const (
	stringAtom stringClass = iota
	stringQuoted
	stringLiteral
)

func classifyString(s string) stringClass {
	if len(s) == 0 {
		return stringQuoted
	}
	if len(s) > 4096 {
		return stringLiteral
	}
	class := stringAtom
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !IsQuotedChar(ch) {
			return stringLiteral
		}
		if !IsAtomChar(ch) {
			class = stringQuoted
		}
	}
	return class
}

// addLiteral writes the literal header into the text buffer, closes the
// simple part and appends p with the transmission flag matching the
// connection's LITERAL+ support.
func (b *Builder) addLiteral(p Part) {
	b.text.WriteByte('{')
	b.text.WriteString(strconv.FormatInt(p.Size, 10))
	if b.LiteralPlus {
		b.text.WriteByte('+')
		p.Flags |= PartLiteralPlus
	} else {
		p.Flags |= PartContinuation
	}
	b.text.WriteByte('}')
	b.flushText()
	b.parts = append(b.parts, p)
}

// addFlagList writes a parenthesized flag list. The synthetic \Recent
// pseudo-flag is never sent, and label pseudo-flags are translated to their
// $Labeln keyword form.
func (b *Builder) addFlagList(flags []imapx.Flag) {
	b.text.WriteByte('(')
	n := 0
	for _, f := range flags {
		if strings.EqualFold(string(f), string(imapx.FlagRecent)) {
			continue
		}
		if n > 0 {
			b.text.WriteByte(' ')
		}
		b.text.WriteString(string(imapx.FlagToWire(f)))
		n++
	}
	b.text.WriteByte(')')
}

func (b *Builder) addAuth(client sasl.Client) {
	if client == nil {
		b.setErr(fmt.Errorf("imapwire: %%A requires a sasl.Client"))
		return
	}
	mech, ir, err := client.Start()
	if err != nil {
		b.setErr(err)
		return
	}
	b.text.WriteString(mech)
	b.flushText()
	b.parts = append(b.parts, Part{
		Kind:     PartAuth,
		Flags:    PartContinuation,
		Auth:     client,
		AuthMech: mech,
		AuthIR:   ir,
	})
}

func (b *Builder) addStream(rs io.ReadSeeker) {
	if rs == nil {
		b.setErr(fmt.Errorf("imapwire: %%S requires an io.ReadSeeker"))
		return
	}
	size, err := sizeStream(rs)
	if err != nil {
		b.setErr(err)
		return
	}
	b.addLiteral(Part{Kind: PartStream, Stream: rs, Size: size})
}

func (b *Builder) addWrapper(entity *message.Entity) {
	if entity == nil {
		b.setErr(fmt.Errorf("imapwire: %%D requires a *message.Entity"))
		return
	}
	raw, err := sizeWrapper(entity)
	if err != nil {
		b.setErr(err)
		return
	}
	b.addLiteral(Part{Kind: PartWrapper, Wrapper: raw, Size: int64(len(raw))})
}

func (b *Builder) addFile(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		b.setErr(err)
		return
	}
	b.addLiteral(Part{Kind: PartFile, Path: path, Size: fi.Size()})
}

// addMailbox writes the mailbox's canonical wire name: INBOX is
// case-insensitive and always sent as the atom INBOX, everything else is
// UTF-7 encoded and classified like %s.
func (b *Builder) addMailbox(name string) {
	if strings.EqualFold(name, "INBOX") {
		b.text.WriteString("INBOX")
		return
	}
	encoded, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		b.setErr(err)
		return
	}
	b.addString(encoded)
}

func toString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(arg interface{}, long bool) int64 {
	switch v := arg.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		_ = long
		return 0
	}
}

func toUint64(arg interface{}, long bool) uint64 {
	switch v := arg.(type) {
	case uint:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case imapx.UID:
		return uint64(v)
	case imapx.ModSeq:
		return uint64(v)
	case int:
		if v >= 0 {
			return uint64(v)
		}
		return 0
	default:
		_ = long
		return 0
	}
}

func toByte(arg interface{}) byte {
	switch v := arg.(type) {
	case byte:
		return v
	case rune:
		return byte(v)
	default:
		return '?'
	}
}
