package imapx

import (
	"errors"
	"fmt"
)

// ProtocolError reports a malformed token stream. It is always fatal to the
// current response and escalates to connection shutdown.
type ProtocolError struct {
	Context string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("imapx: protocol error in %v: %v", e.Context, e.Err)
	}
	return fmt.Sprintf("imapx: protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError is a tagged NO/BAD (or a failure-indicating OK code). The
// command still completed; the error is scoped to the owning job.
type ServerError struct {
	Type StatusType
	Code ResponseCode
	Text string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("imapx: server %v [%v] %v", e.Type, e.Code, e.Text)
	}
	return fmt.Sprintf("imapx: server %v %v", e.Type, e.Text)
}

// IsPermissionError reports whether the failure indicates a mailbox the
// account is not allowed to access, which callers remember rather than
// retry.
func (e *ServerError) IsPermissionError() bool {
	return e.Code == CodeNoPerm || e.Code == CodeAuthorizationFail
}

// ErrTryReconnect classifies a transport failure that looks like a dropped
// connection (reset, timeout with work outstanding). It is the single
// trigger the pool uses to tear down every connection of an account.
var ErrTryReconnect = errors.New("imapx: connection dropped, try reconnecting")

// ErrNotReady is returned when a job is submitted to a connection below the
// INITIALISED state.
var ErrNotReady = errors.New("imapx: connection not initialised")

// ErrShutdown is returned for submissions to a connection or pool that has
// shut down.
var ErrShutdown = errors.New("imapx: connection shut down")

// ConcurrentConnectError reports that an additional physical connection
// attempt failed while at least one earlier connection is usable. The pool
// reacts by lowering its concurrent-connection ceiling, not by failing the
// operation.
type ConcurrentConnectError struct {
	Err error
}

func (e *ConcurrentConnectError) Error() string {
	return fmt.Sprintf("imapx: concurrent connection attempt failed: %v", e.Err)
}

func (e *ConcurrentConnectError) Unwrap() error { return e.Err }
