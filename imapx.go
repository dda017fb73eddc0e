// Package imapx contains the shared types of the IMAP command engine.
//
// The wire grammar is defined in RFC 3501, extended by IDLE (RFC 2177),
// NAMESPACE (RFC 2342), QUOTA (RFC 2087), UIDPLUS (RFC 4315),
// CONDSTORE/QRESYNC (RFC 7162), LIST-EXTENDED (RFC 5258), MOVE (RFC 6851),
// NOTIFY (RFC 5465) and LITERAL+ (RFC 2088).
package imapx

// UID is a message unique identifier, strictly positive and ascending
// within one UIDVALIDITY epoch.
type UID uint32

// ModSeq is a CONDSTORE modification sequence number. Zero means unknown.
type ModSeq uint64

// MailboxCounts holds the per-mailbox counters reported by the server and
// mirrored by the local summary.
type MailboxCounts struct {
	Messages       uint32
	Unseen         uint32
	Recent         uint32
	UIDNext        UID
	UIDValidity    uint32
	HighestModSeq  ModSeq
	PermanentFlags []Flag
	ReadOnly       bool
}

// ChangeInfo accumulates mailbox changes observed while processing server
// responses. It is flushed to the summary collaborator only at safe points
// (tagged completion, reconciliation end).
type ChangeInfo struct {
	Added   []UID
	Removed []UID
	Changed []UID
}

// Empty reports whether no change has been recorded.
func (ci *ChangeInfo) Empty() bool {
	return len(ci.Added) == 0 && len(ci.Removed) == 0 && len(ci.Changed) == 0
}

// Merge folds other into ci.
func (ci *ChangeInfo) Merge(other *ChangeInfo) {
	ci.Added = append(ci.Added, other.Added...)
	ci.Removed = append(ci.Removed, other.Removed...)
	ci.Changed = append(ci.Changed, other.Changed...)
}

// Reset clears the accumulated changes, keeping allocations.
func (ci *ChangeInfo) Reset() {
	ci.Added = ci.Added[:0]
	ci.Removed = ci.Removed[:0]
	ci.Changed = ci.Changed[:0]
}
