package imapx

import "strings"

// Flag is a message flag or keyword.
type Flag string

const (
	// System flags, RFC 3501 section 2.3.2.
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	// Recent is server-assigned and never written back.
	FlagRecent Flag = "\\Recent"

	// Widely used keywords.
	FlagForwarded Flag = "$Forwarded"
	FlagMDNSent   Flag = "$MDNSent"
	FlagJunk      Flag = "$Junk"
	FlagNotJunk   Flag = "$NotJunk"
)

// systemFlags is the fixed table of flags recognized during parsing. Anything
// else is retained verbatim as a user flag.
var systemFlags = map[string]Flag{
	"\\seen":     FlagSeen,
	"\\answered": FlagAnswered,
	"\\flagged":  FlagFlagged,
	"\\deleted":  FlagDeleted,
	"\\draft":    FlagDraft,
	"\\recent":   FlagRecent,
}

// CanonicalFlag maps a wire flag to its canonical spelling if it is a known
// system flag, and returns it unchanged otherwise.
func CanonicalFlag(raw string) Flag {
	if f, ok := systemFlags[strings.ToLower(raw)]; ok {
		return f
	}
	return Flag(raw)
}

// IsSystemFlag reports whether f is one of the RFC 3501 system flags.
func IsSystemFlag(f Flag) bool {
	_, ok := systemFlags[strings.ToLower(string(f))]
	return ok
}

// Label keywords use two spellings: the legacy local names and the
// "$Labeln" keywords stored on the server. The rename is bidirectional so
// summaries written by old clients keep working.
var (
	labelToWire = map[Flag]Flag{
		"important": "$Label1",
		"work":      "$Label2",
		"personal":  "$Label3",
		"to-do":     "$Label4",
		"later":     "$Label5",
	}
	labelFromWire = map[Flag]Flag{
		"$Label1": "important",
		"$Label2": "work",
		"$Label3": "personal",
		"$Label4": "to-do",
		"$Label5": "later",
	}
)

// FlagToWire returns the on-the-wire spelling of f, translating label
// pseudo-flags to their $Labeln keyword form.
func FlagToWire(f Flag) Flag {
	if wire, ok := labelToWire[f]; ok {
		return wire
	}
	return f
}

// FlagFromWire is the inverse of FlagToWire.
func FlagFromWire(f Flag) Flag {
	if local, ok := labelFromWire[f]; ok {
		return local
	}
	return CanonicalFlag(string(f))
}

// FlagSet is an unordered set of flags with case-insensitive membership for
// system flags and case-sensitive membership for keywords, matching server
// behaviour.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a set from a flag list.
func NewFlagSet(flags ...Flag) FlagSet {
	s := make(FlagSet, len(flags))
	for _, f := range flags {
		s.Add(f)
	}
	return s
}

func (s FlagSet) Add(f Flag)      { s[normalizeFlag(f)] = struct{}{} }
func (s FlagSet) Remove(f Flag)   { delete(s, normalizeFlag(f)) }
func (s FlagSet) Has(f Flag) bool { _, ok := s[normalizeFlag(f)]; return ok }

// Slice returns the set's flags in unspecified order.
func (s FlagSet) Slice() []Flag {
	flags := make([]Flag, 0, len(s))
	for f := range s {
		flags = append(flags, f)
	}
	return flags
}

// Diff returns the flags present in s but absent from other.
func (s FlagSet) Diff(other FlagSet) []Flag {
	var flags []Flag
	for f := range s {
		if !other.Has(f) {
			flags = append(flags, f)
		}
	}
	return flags
}

func normalizeFlag(f Flag) Flag {
	if IsSystemFlag(f) {
		return CanonicalFlag(string(f))
	}
	return f
}
