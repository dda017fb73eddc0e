package imapx

import (
	"context"
	"io"
	"time"
)

// DialFunc hands the engine an established duplex byte stream (plain,
// TLS-upgraded, or a subprocess's stdio pipes). The engine never creates
// the physical connection itself.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// DeadlineSetter is optionally implemented by transports backed by a real
// socket; the engine uses it for best-effort read/write timeouts.
type DeadlineSetter interface {
	SetDeadline(t time.Time) error
}

// MessageInfo is one per-message metadata row of the local summary.
type MessageInfo struct {
	UID   UID
	Flags FlagSet
	// ServerFlags is the last flag set acknowledged by the server, used to
	// compute the symmetric difference during sync-changes.
	ServerFlags FlagSet
	Size        uint32
	ModSeq      ModSeq
	Date        time.Time
	Header      []byte
}

// Summary is the local folder summary collaborator: per-mailbox,
// synchronous, goroutine-safe. The engine mutates it only at safe points
// and calls Save after each logical batch.
type Summary interface {
	// Get looks up a message-info by UID.
	Get(uid UID) (*MessageInfo, bool)
	// UIDAt resolves a 1-based sequence number to a UID, 0 if out of range.
	UIDAt(seqNum uint32) UID
	// UIDs returns all known UIDs in ascending order.
	UIDs() []UID
	Add(info *MessageInfo)
	Update(info *MessageInfo)
	Remove(uid UID)

	Counts() MailboxCounts
	SetCounts(counts MailboxCounts)

	// DeletedUIDs returns the persisted list of UIDs known to be flagged
	// deleted, reconciled after an EXPUNGE.
	DeletedUIDs() []UID

	// Save persists the summary to disk.
	Save() error
	// Changed flushes accumulated change-info to the user.
	Changed(info *ChangeInfo)
}

// MailboxInfo is a LIST/LSUB row forwarded to the store summary.
type MailboxInfo struct {
	Name       string
	Delimiter  string
	Attrs      []string
	Subscribed bool
}

// QuotaInfo is one GETQUOTAROOT resource row.
type QuotaInfo struct {
	Root  string
	Name  string
	Used  uint64
	Limit uint64
}

// StoreSummary maps wire mailbox names to local folder paths and tracks
// subscription and attribute state across restarts.
type StoreSummary interface {
	// Summary returns the folder summary for a wire mailbox name.
	Summary(mailbox string) (Summary, error)
	AddMailbox(info *MailboxInfo)
	RemoveMailbox(name string)
	RenameMailbox(oldName, newName string)
	SetSubscribed(name string, subscribed bool)
	SetQuota(mailbox string, quota []QuotaInfo)
	// SetPermissionDenied remembers a mailbox the server refused to select so
	// it is not retried forever.
	SetPermissionDenied(name string)
}

// Settings exposes the account's read-only configuration.
type Settings interface {
	// MaxConnections is the concurrent-connection limit, at least 1.
	MaxConnections() int
	UseIdle() bool
	UseQResync() bool
	UseNotify() bool
	// BatchFetchCount is the number of messages fetched per round-trip.
	BatchFetchCount() int
	// FetchOrderAscending selects whether new messages are fetched oldest
	// first.
	FetchOrderAscending() bool
	UseRealTrashPath() bool
	UseRealJunkPath() bool
}

// SettingsDefaults is a Settings with sensible defaults; embed it or use it
// directly in tests.
type SettingsDefaults struct {
	Connections int
	Idle        bool
	QResync     bool
	Notify      bool
	BatchFetch  int
	Ascending   bool
	RealTrash   bool
	RealJunk    bool
}

func (s *SettingsDefaults) MaxConnections() int {
	if s.Connections < 1 {
		return 1
	}
	return s.Connections
}

func (s *SettingsDefaults) UseIdle() bool    { return s.Idle }
func (s *SettingsDefaults) UseQResync() bool { return s.QResync }
func (s *SettingsDefaults) UseNotify() bool  { return s.Notify }

func (s *SettingsDefaults) BatchFetchCount() int {
	if s.BatchFetch < 1 {
		return 500
	}
	return s.BatchFetch
}

func (s *SettingsDefaults) FetchOrderAscending() bool { return s.Ascending }
func (s *SettingsDefaults) UseRealTrashPath() bool    { return s.RealTrash }
func (s *SettingsDefaults) UseRealJunkPath() bool     { return s.RealJunk }
