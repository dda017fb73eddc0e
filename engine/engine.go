// Package engine turns application-level mail operations into correctly
// ordered, pipelined IMAP traffic over one or more connections, and turns
// the server's responses back into structured state updates.
//
// A Conn owns one physical connection: its command queues, the selected
// mailbox, the IDLE sub-state machine and a dedicated reader goroutine. A
// Pool owns the Conns of one account and routes jobs to them by mailbox
// affinity and load.
package engine

// ConnState is the lifecycle state of one physical connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateShutdown
	StateConnected
	StateAuthenticated
	StateInitialised
	StateSelected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateShutdown:
		return "shutdown"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInitialised:
		return "initialised"
	case StateSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// JobKind tags the logical operation a Job performs.
type JobKind int

const (
	JobGetMessage JobKind = iota + 1
	JobSyncMessage
	JobAppendMessage
	JobCopyMessages
	JobMoveMessages
	JobFetchNewMessages
	JobRefreshInfo
	JobScanChanges
	JobSyncChanges
	JobExpunge
	JobNoop
	JobIdle
	JobList
	JobCreateMailbox
	JobDeleteMailbox
	JobRenameMailbox
	JobSubscribeMailbox
	JobUnsubscribeMailbox
	JobUpdateQuota
	JobUIDSearch
)

func (k JobKind) String() string {
	switch k {
	case JobGetMessage:
		return "get-message"
	case JobSyncMessage:
		return "sync-message"
	case JobAppendMessage:
		return "append-message"
	case JobCopyMessages:
		return "copy-messages"
	case JobMoveMessages:
		return "move-messages"
	case JobFetchNewMessages:
		return "fetch-new-messages"
	case JobRefreshInfo:
		return "refresh-info"
	case JobScanChanges:
		return "scan-changes"
	case JobSyncChanges:
		return "sync-changes"
	case JobExpunge:
		return "expunge"
	case JobNoop:
		return "noop"
	case JobIdle:
		return "idle"
	case JobList:
		return "list"
	case JobCreateMailbox:
		return "create-mailbox"
	case JobDeleteMailbox:
		return "delete-mailbox"
	case JobRenameMailbox:
		return "rename-mailbox"
	case JobSubscribeMailbox:
		return "subscribe-mailbox"
	case JobUnsubscribeMailbox:
		return "unsubscribe-mailbox"
	case JobUpdateQuota:
		return "update-quota"
	case JobUIDSearch:
		return "uid-search"
	default:
		return "unknown"
	}
}

// Expensive reports whether the job kind is tracked for load segregation:
// the pool avoids concentrating these on one connection.
func (k JobKind) Expensive() bool {
	return k == JobRefreshInfo || k == JobFetchNewMessages
}

// Command priorities. Only the relative order matters: the scheduler never
// starts a queued command whose priority is below that of an active one for
// the same mailbox.
const (
	PriorityMailboxMgmt = 300
	PrioritySyncChanges = 200
	PriorityExpunge     = 200
	PrioritySearch      = 200
	PriorityGetMessage  = 100
	PriorityRefreshInfo = 0
	PriorityNoop        = 0
	PriorityNewMessages = 0
	PriorityAppend      = -100
	PriorityCopy        = -100
	PriorityList        = -200
	PriorityIdle        = -300
	PrioritySyncMessage = -400
)

// MaxActiveCommands caps how many commands may be awaiting their tagged
// response on one connection at a time.
const MaxActiveCommands = 10
