package engine

import (
	"fmt"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/imapwire"
)

// Command is one tagged IMAP command: an ordered part list plus completion
// bookkeeping. A command is created by a job's start handler, enqueued,
// moved pending→active when transmitted, and completed exactly once when
// its tagged response arrives or the connection fails.
type Command struct {
	conn *Conn
	// tag is the connection's prefix letter followed by a 5-digit
	// zero-padded counter, e.g. "A00013".
	tag  string
	name string
	// mailbox is the command's affinity: the mailbox that must be selected
	// before the command may be sent. Empty means no affinity.
	mailbox  string
	priority int
	// jobID identifies the owning job; commands never hold the job itself.
	jobID uint64

	builder imapwire.Builder
	parts   []imapwire.Part
	closed  bool

	// complete fires exactly once, from the reader goroutine, after the
	// tagged response (or a synthesized failure) is recorded.
	complete func(cmd *Command)

	status *imapx.StatusResponse
	err    error

	completed bool
	waitCh    chan struct{}
}

// newCommand builds the initial parts from the directive format, which
// carries the full command text after the tag ("UID FETCH ...", "NOOP").
// name is the command's label for logging and metrics only.
func (c *Conn) newCommand(name, mailbox string, priority int, format string, args ...interface{}) *Command {
	cmd := &Command{
		conn:     c,
		tag:      c.nextTag(),
		name:     name,
		mailbox:  mailbox,
		priority: priority,
		waitCh:   make(chan struct{}),
	}
	cmd.builder.LiteralPlus = c.Caps().Has(imapx.CapLiteralPlus)
	cmd.builder.Addf("%t ", cmd.tag)
	cmd.builder.Addf(format, args...)
	return cmd
}

// Addf appends directive-driven content to the in-progress text buffer,
// used to build up multi-step commands such as batched UID sets.
func (cmd *Command) Addf(format string, args ...interface{}) {
	if cmd.closed {
		cmd.setErr(fmt.Errorf("imapx: command %v already closed", cmd.tag))
		return
	}
	cmd.builder.Addf(format, args...)
}

// close flushes pending text into a final simple part. A no-op when called
// twice.
func (cmd *Command) close() {
	if cmd.closed {
		return
	}
	cmd.closed = true
	cmd.parts = cmd.builder.Close()
	if err := cmd.builder.Err(); err != nil {
		cmd.setErr(err)
	}
}

func (cmd *Command) setErr(err error) {
	if cmd.err == nil {
		cmd.err = err
	}
}

// Err returns the command's local error, if any.
func (cmd *Command) Err() error { return cmd.err }

// Status returns the parsed tagged response, nil until completion.
func (cmd *Command) Status() *imapx.StatusResponse { return cmd.status }

// result folds the server status into an error: a tagged NO/BAD becomes a
// ServerError, a local failure wins over both.
func (cmd *Command) result() error {
	if cmd.err != nil {
		return cmd.err
	}
	if cmd.status != nil && cmd.status.Type != imapx.StatusOK {
		return &imapx.ServerError{
			Type: cmd.status.Type,
			Code: cmd.status.Code,
			Text: cmd.status.Text,
		}
	}
	return nil
}

// markComplete records the outcome and fires the completion callback
// exactly once, then wakes any waiter.
func (cmd *Command) markComplete(status *imapx.StatusResponse, err error) {
	if cmd.completed {
		return
	}
	cmd.completed = true
	cmd.status = status
	if err != nil {
		cmd.setErr(err)
	}
	if cmd.complete != nil {
		cmd.complete(cmd)
	}
	close(cmd.waitCh)
}

// wait blocks until the command completes. Used only for commands that run
// synchronously outside the normal queue (connection bring-up).
func (cmd *Command) wait() error {
	<-cmd.waitCh
	return cmd.result()
}

// continuationBearing reports whether the part cannot be written until the
// server prompts with "+".
func continuationBearing(p *imapwire.Part) bool {
	return p.Flags&imapwire.PartContinuation != 0
}
