package imapx

import "strings"

// Cap is an IMAP capability name.
type Cap string

const (
	CapIMAP4rev1     Cap = "IMAP4REV1"
	CapLiteralPlus   Cap = "LITERAL+"
	CapLiteralMinus  Cap = "LITERAL-"
	CapIdle          Cap = "IDLE"
	CapNamespace     Cap = "NAMESPACE"
	CapQuota         Cap = "QUOTA"
	CapUIDPlus       Cap = "UIDPLUS"
	CapCondStore     Cap = "CONDSTORE"
	CapQResync       Cap = "QRESYNC"
	CapEnable        Cap = "ENABLE"
	CapListExtended  Cap = "LIST-EXTENDED"
	CapListStatus    Cap = "LIST-STATUS"
	CapSpecialUse    Cap = "SPECIAL-USE"
	CapMove          Cap = "MOVE"
	CapNotify        Cap = "NOTIFY"
	CapSASLIR        Cap = "SASL-IR"
	CapStartTLS      Cap = "STARTTLS"
	CapUnselect      Cap = "UNSELECT"
	CapLoginDisabled Cap = "LOGINDISABLED"
)

// CapSet is a set of capabilities advertised by a server.
type CapSet map[Cap]struct{}

// NewCapSet builds a set from raw capability tokens, canonicalizing case and
// adding derived capabilities: a server advertising LIST-STATUS must also
// implement LIST-EXTENDED, and QRESYNC implies CONDSTORE (RFC 7162).
func NewCapSet(caps ...string) CapSet {
	s := make(CapSet, len(caps))
	for _, c := range caps {
		s[Cap(strings.ToUpper(c))] = struct{}{}
	}
	if s.Has(CapListStatus) {
		s[CapListExtended] = struct{}{}
	}
	if s.Has(CapQResync) {
		s[CapCondStore] = struct{}{}
	}
	return s
}

// Has reports whether the capability is present.
func (s CapSet) Has(c Cap) bool {
	_, ok := s[c]
	return ok
}

// AuthMechanisms returns the SASL mechanisms advertised via AUTH= tokens.
func (s CapSet) AuthMechanisms() []string {
	var mechs []string
	for c := range s {
		if name, ok := strings.CutPrefix(string(c), "AUTH="); ok {
			mechs = append(mechs, name)
		}
	}
	return mechs
}
