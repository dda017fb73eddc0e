// Package utf7 implements the modified UTF-7 encoding defined in RFC 3501
// section 5.1.3, used for non-ASCII mailbox names.
package utf7

import (
	"encoding/base64"
	"errors"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	min = 0x20 // minimum self-representing value
	max = 0x7E // maximum self-representing value
)

var b64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").WithPadding(base64.NoPadding)

// ErrBadUTF7 is returned when decoding malformed modified UTF-7.
var ErrBadUTF7 = errors.New("utf7: invalid modified UTF-7 sequence")

type enc struct{}

// Encoding is the modified UTF-7 encoding.
var Encoding encoding.Encoding = enc{}

func (enc) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &encoder{}}
}

func (enc) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &decoder{}}
}

// encoder and decoder operate on whole inputs: mailbox names are short, so
// they request the full source before transforming.

type encoder struct{}

func (e *encoder) Reset() {}

func (e *encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if !atEOF {
		return 0, 0, transform.ErrShortSrc
	}
	out := encode(string(src))
	if len(out) > len(dst) {
		return 0, 0, transform.ErrShortDst
	}
	return copy(dst, out), len(src), nil
}

type decoder struct{}

func (d *decoder) Reset() {}

func (d *decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if !atEOF {
		return 0, 0, transform.ErrShortSrc
	}
	out, err := decode(string(src))
	if err != nil {
		return 0, 0, err
	}
	if len(out) > len(dst) {
		return 0, 0, transform.ErrShortDst
	}
	return copy(dst, out), len(src), nil
}

func encode(s string) string {
	var out []byte
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		out = append(out, '&')
		u16 := utf16.Encode(run)
		raw := make([]byte, 2*len(u16))
		for i, v := range u16 {
			raw[2*i] = byte(v >> 8)
			raw[2*i+1] = byte(v)
		}
		out = append(out, b64.EncodeToString(raw)...)
		out = append(out, '-')
		run = run[:0]
	}
	for _, r := range s {
		if r >= min && r <= max {
			flush()
			if r == '&' {
				out = append(out, '&', '-')
			} else {
				out = append(out, byte(r))
			}
		} else {
			run = append(run, r)
		}
	}
	flush()
	return string(out)
}

func decode(s string) (string, error) {
	var out []byte
	for i := 0; i < len(s); {
		ch := s[i]
		if ch != '&' {
			if ch < min || ch > max {
				return "", ErrBadUTF7
			}
			out = append(out, ch)
			i++
			continue
		}
		end := i + 1
		for end < len(s) && s[end] != '-' {
			end++
		}
		if end == len(s) {
			return "", ErrBadUTF7 // unterminated shift sequence
		}
		if end == i+1 {
			out = append(out, '&')
			i = end + 1
			continue
		}
		raw, err := b64.DecodeString(s[i+1 : end])
		if err != nil || len(raw)%2 != 0 {
			return "", ErrBadUTF7
		}
		u16 := make([]uint16, len(raw)/2)
		for j := range u16 {
			u16[j] = uint16(raw[2*j])<<8 | uint16(raw[2*j+1])
		}
		for _, r := range utf16.Decode(u16) {
			if r == utf8.RuneError {
				return "", ErrBadUTF7
			}
			out = utf8.AppendRune(out, r)
		}
		i = end + 1
	}
	return string(out), nil
}
