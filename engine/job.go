package engine

import (
	"context"
	"sync"

	"github.com/emersion/go-imapx"
)

// Job is one logical operation, possibly spanning several commands. Jobs
// are registered with a connection, started by its scheduler, and finish
// when their outstanding-command counter drops to zero.
type Job struct {
	id       uint64
	kind     JobKind
	priority int
	mailbox  string
	// uid participates in the Matches predicate for per-message jobs.
	uid imapx.UID

	ctx  context.Context
	conn *Conn

	mu sync.Mutex
	// commands counts commands issued but not yet completed.
	commands int
	started  bool
	err      error
	done     bool
	doneCh   chan struct{}

	// data is the job-kind-specific payload; dataDone runs when it is
	// replaced or the job is released.
	data     interface{}
	dataDone func()

	// start issues the job's first command(s). It runs on the scheduler's
	// goroutine with no locks held.
	start func(j *Job) error
}

func newJob(ctx context.Context, kind JobKind, priority int, mailbox string) *Job {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Job{
		kind:     kind,
		priority: priority,
		mailbox:  mailbox,
		ctx:      ctx,
		doneCh:   make(chan struct{}),
	}
}

// Kind returns the job's operation tag.
func (j *Job) Kind() JobKind { return j.kind }

// Mailbox returns the job's target mailbox, empty for account-wide jobs.
func (j *Job) Mailbox() string { return j.mailbox }

// Context returns the job's cancellation context.
func (j *Job) Context() context.Context { return j.ctx }

// SetData installs the job-kind payload, running the previous payload's
// destructor if one was set.
func (j *Job) SetData(data interface{}, done func()) {
	j.mu.Lock()
	prevDone := j.dataDone
	j.data = data
	j.dataDone = done
	j.mu.Unlock()
	if prevDone != nil {
		prevDone()
	}
}

// Data returns the job-kind payload.
func (j *Job) Data() interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.data
}

// SetError records the job's error. The first error wins; later calls are
// ignored.
func (j *Job) SetError(err error) {
	if err == nil {
		return
	}
	j.mu.Lock()
	if j.err == nil {
		j.err = err
	}
	j.mu.Unlock()
}

// Err returns the job's recorded error.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Matches reports whether the job targets the given mailbox and, for
// per-message kinds, the given UID. It drives both request deduplication
// and the pool's job lookups. uid zero matches any UID.
func (j *Job) Matches(mailbox string, uid imapx.UID) bool {
	if j.mailbox != mailbox {
		return false
	}
	switch j.kind {
	case JobGetMessage, JobSyncMessage:
		return uid == 0 || j.uid == uid
	default:
		return true
	}
}

// addCommand increments the outstanding-command counter.
func (j *Job) addCommand() {
	j.mu.Lock()
	j.commands++
	j.mu.Unlock()
}

// commandDone decrements the outstanding-command counter and returns true
// when it reaches zero.
func (j *Job) commandDone() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.commands--
	return j.commands <= 0
}

// commandCountZero reports whether no commands are outstanding.
func (j *Job) commandCountZero() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commands == 0
}

// finish marks the job done and wakes waiters. Idempotent.
func (j *Job) finish() {
	j.mu.Lock()
	already := j.done
	j.done = true
	dataDone := j.dataDone
	j.dataDone = nil
	j.mu.Unlock()
	if already {
		return
	}
	if dataDone != nil {
		dataDone()
	}
	close(j.doneCh)
}

// Wait blocks until the job completes or its context is cancelled, and
// returns the job's error.
func (j *Job) Wait() error {
	select {
	case <-j.doneCh:
		return j.Err()
	case <-j.ctx.Done():
		return j.ctx.Err()
	}
}

// Done exposes completion for select-based callers.
func (j *Job) Done() <-chan struct{} { return j.doneCh }

// cancelled reports whether the job's context has been cancelled; checked
// at command-start time.
func (j *Job) cancelled() error {
	select {
	case <-j.ctx.Done():
		return j.ctx.Err()
	default:
		return nil
	}
}
