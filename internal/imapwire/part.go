package imapwire

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-message"
	"github.com/emersion/go-sasl"
)

// PartKind classifies one fragment of a command's payload.
type PartKind int

const (
	// PartSimple is text already rendered into the part's buffer.
	PartSimple PartKind = iota
	// PartString is a string sent as a literal.
	PartString
	// PartFile is a file path whose contents are sent as a literal.
	PartFile
	// PartStream is a seekable stream sent as a literal.
	PartStream
	// PartWrapper is a go-message entity sent as a literal.
	PartWrapper
	// PartAuth is a SASL continuation driver.
	PartAuth
)

// PartFlags qualify how a non-simple part is transmitted.
type PartFlags uint8

const (
	// PartContinuation requires the server's "+" prompt before the payload
	// may be written.
	PartContinuation PartFlags = 1 << iota
	// PartLiteralPlus lets the payload be written immediately; the size was
	// pre-declared with "{n+}".
	PartLiteralPlus
)

// Part is a single fragment of a command. A command exclusively owns its
// parts; parts referencing external data (stream, file, SASL client) borrow
// it for the part's lifetime only.
type Part struct {
	Kind  PartKind
	Flags PartFlags
	// Size is the exact literal byte count for literal-bearing parts.
	Size int64

	Text     []byte        // PartSimple
	String   string        // PartString
	Path     string        // PartFile
	Stream   io.ReadSeeker // PartStream
	Wrapper  []byte        // PartWrapper, pre-serialized
	Auth     sasl.Client   // PartAuth
	AuthMech string
	// AuthIR is the SASL initial response, sent on the server's first empty
	// challenge prompt.
	AuthIR []byte
}

// WritePayload streams the part's literal bytes to w. Exactly Size bytes
// must come out; anything else is an error, since the literal header has
// already declared the count.
func (p *Part) WritePayload(w io.Writer) error {
	switch p.Kind {
	case PartString:
		_, err := io.WriteString(w, p.String)
		return err
	case PartWrapper:
		_, err := w.Write(p.Wrapper)
		return err
	case PartFile:
		f, err := os.Open(p.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(w, f)
		if err == nil && n != p.Size {
			err = fmt.Errorf("imapwire: file %q changed size during append", p.Path)
		}
		return err
	case PartStream:
		n, err := io.Copy(w, p.Stream)
		if err == nil && n != p.Size {
			err = fmt.Errorf("imapwire: stream yielded %v bytes, declared %v", n, p.Size)
		}
		return err
	default:
		return fmt.Errorf("imapwire: part kind %v has no payload", p.Kind)
	}
}

// sizeStream measures a seekable stream from its current position and
// restores the cursor.
func sizeStream(rs io.ReadSeeker) (int64, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(pos, io.SeekStart); err != nil {
		return 0, err
	}
	return end - pos, nil
}

// sizeWrapper serializes a go-message entity once, so the literal length is
// always exact. The serialized form is retained for transmission since
// entity bodies cannot be re-read.
func sizeWrapper(e *message.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
