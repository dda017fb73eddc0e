// Package imapwire implements the IMAP wire protocol: the directive-based
// command builder on the way out, and the response grammar on the way in.
//
// The wire protocol is defined in RFC 3501 section 4.
package imapwire

import (
	"encoding/base64"
	"fmt"
)

// ContinuationRequest is a pending server continuation ("+" line).
//
// The receiver of the "+" must call either Done or Cancel. The writer
// blocked on the literal calls Wait.
type ContinuationRequest struct {
	done chan struct{}
	err  error
	text string
}

func NewContinuationRequest() *ContinuationRequest {
	return &ContinuationRequest{done: make(chan struct{})}
}

// Cancel fails the continuation, unblocking the waiter with err.
func (cont *ContinuationRequest) Cancel(err error) {
	if err == nil {
		err = fmt.Errorf("imapwire: continuation request cancelled")
	}
	cont.err = err
	close(cont.done)
}

// Done completes the continuation. text is the server's prompt text, which
// carries the challenge during a SASL exchange.
func (cont *ContinuationRequest) Done(text string) {
	cont.text = text
	close(cont.done)
}

// Wait blocks until the server prompts or the request is cancelled.
func (cont *ContinuationRequest) Wait() (string, error) {
	<-cont.done
	return cont.text, cont.err
}

// EncodeSASL encodes a SASL response for the wire. An empty response is
// sent as "=" per RFC 4959.
func EncodeSASL(resp []byte) string {
	if len(resp) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(resp)
}

// DecodeSASL decodes a server challenge from a continuation prompt.
func DecodeSASL(text string) ([]byte, error) {
	if text == "" || text == "=" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("imapwire: malformed SASL challenge: %v", err)
	}
	return b, nil
}

// IsAtomChar reports whether ch may appear in an unquoted atom.
func IsAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', '}', ' ', '%', '*', '"', '\\', ']':
		return false
	}
	return ch > 0x1F && ch < 0x7F
}

// IsQuotedChar reports whether ch may appear inside a quoted string
// (possibly escaped).
func IsQuotedChar(ch byte) bool {
	return ch != 0 && ch != '\r' && ch != '\n' && ch < 0x80
}
