package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emersion/go-imapx"
)

// PoolOptions configures one account's connection pool.
type PoolOptions struct {
	Dial         imapx.DialFunc
	Settings     imapx.Settings
	Store        imapx.StoreSummary
	Authenticate func(ctx context.Context, c *Conn) error

	Logger      *slog.Logger
	DebugWriter io.Writer

	OnAlert       func(text string)
	OnNewMessages func(mailbox string)
}

// Pool owns the physical connections of one account and routes jobs to
// them. Routing prefers the connection already working on the target
// mailbox, then the least loaded one, and opens a new connection only
// below the concurrent-connection ceiling. Expensive jobs (refresh-info,
// fetch-new-messages) are spread so no connection carries two at once.
type Pool struct {
	opts   PoolOptions
	logger *slog.Logger

	// mu guards the connection list and the tag prefix assignment.
	mu       sync.RWMutex
	conns    []*Conn
	prefixes map[byte]bool
	shutdown bool

	// connectMu serializes physical connection attempts and guards the
	// ceiling, which concurrent-connect failures lower.
	connectMu sync.Mutex
	ceiling   int
}

// NewPool creates a pool with no open connections. The first job routed
// through it dials on demand.
func NewPool(opts PoolOptions) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		opts:     opts,
		logger:   logger,
		prefixes: make(map[byte]bool),
		ceiling:  opts.Settings.MaxConnections(),
	}
}

// Connect eagerly opens the pool's first connection. Optional; routing
// dials on demand.
func (p *Pool) Connect(ctx context.Context) error {
	_, err := p.ConnForMailbox(ctx, "", false)
	return err
}

// Conns returns a snapshot of the open connections.
func (p *Pool) Conns() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Conn(nil), p.conns...)
}

// ConnForMailbox picks the connection that should serve a job for the
// mailbox: a connection already handling that mailbox wins over load
// balancing, a new connection is opened only when every open one is busy
// and the ceiling allows it. A connect failure while other connections
// are usable lowers the ceiling and re-runs the selection instead of
// failing the operation.
func (p *Pool) ConnForMailbox(ctx context.Context, mailbox string, expensive bool) (*Conn, error) {
	for {
		c, dial := p.pick(mailbox, expensive)
		if c != nil {
			return c, nil
		}
		if !dial {
			return nil, imapx.ErrShutdown
		}
		c, err := p.connectOne(ctx)
		if err != nil {
			var cce *imapx.ConcurrentConnectError
			if errors.As(err, &cce) {
				continue
			}
			return nil, err
		}
		return c, nil
	}
}

// pick applies the routing rules to the current connection list. It
// returns either a connection, or dial=true when a new one should be
// opened, or neither when the pool has shut down.
func (p *Pool) pick(mailbox string, expensive bool) (*Conn, bool) {
	p.mu.RLock()
	if p.shutdown {
		p.mu.RUnlock()
		return nil, false
	}
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		if c.State() != StateShutdown {
			conns = append(conns, c)
		}
	}
	p.mu.RUnlock()

	p.connectMu.Lock()
	ceiling := p.ceiling
	p.connectMu.Unlock()

	// Mailbox affinity first: commands for one mailbox should share the
	// connection that has it selected. An expensive job still avoids a
	// connection already running one.
	if mailbox != "" {
		var affine *Conn
		for _, c := range conns {
			if !c.IsMailboxInActiveJobs(mailbox) {
				continue
			}
			if expensive && c.HasExpensiveCommand() {
				continue
			}
			if affine == nil || c.CommandCount() < affine.CommandCount() {
				affine = c
			}
		}
		if affine != nil {
			return affine, false
		}
	}

	var best *Conn
	for _, c := range conns {
		if expensive && c.HasExpensiveCommand() {
			continue
		}
		if best == nil || c.CommandCount() < best.CommandCount() {
			best = c
		}
	}

	if len(conns) < ceiling {
		// Room to grow: prefer a fresh connection over queueing behind a
		// busy one, unless an idle connection is available.
		if best != nil && best.CommandCount() == 0 {
			return best, false
		}
		return nil, true
	}
	if best != nil {
		return best, false
	}
	if len(conns) > 0 {
		// Every connection carries an expensive job and the ceiling is
		// reached; pile onto the least loaded one.
		least := conns[0]
		for _, c := range conns[1:] {
			if c.CommandCount() < least.CommandCount() {
				least = c
			}
		}
		return least, false
	}
	return nil, true
}

// connectOne dials and brings up one new connection. When the attempt
// fails while other connections remain usable, the failure is reported as
// a ConcurrentConnectError and the ceiling drops to one below the open
// count (floor 1): the server is refusing additional sessions, not
// failing.
func (p *Pool) connectOne(ctx context.Context) (*Conn, error) {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, imapx.ErrShutdown
	}
	open := len(p.conns)
	if open >= p.ceiling {
		p.mu.Unlock()
		// Another caller connected while we waited for connectMu.
		if c, _ := p.pick("", false); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("imapx: connection ceiling %d reached", p.ceiling)
	}
	prefix, ok := p.freePrefixLocked()
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("imapx: no free tag prefix")
	}
	p.prefixes[prefix] = true
	p.mu.Unlock()

	c := NewConn(ConnOptions{
		Dial:          p.opts.Dial,
		Settings:      p.opts.Settings,
		Store:         p.opts.Store,
		Authenticate:  p.opts.Authenticate,
		TagPrefix:     prefix,
		Logger:        p.opts.Logger,
		DebugWriter:   p.opts.DebugWriter,
		OnAlert:       p.opts.OnAlert,
		OnNewMessages: p.opts.OnNewMessages,
		OnShutdown:    p.onConnShutdown,
	})

	if err := c.Connect(ctx); err != nil {
		p.mu.Lock()
		delete(p.prefixes, prefix)
		p.mu.Unlock()
		if open > 0 {
			p.ceiling = open
			if p.ceiling < 1 {
				p.ceiling = 1
			}
			p.logger.Info("concurrent connect failed, lowering ceiling",
				"ceiling", p.ceiling, "err", err)
			return nil, &imapx.ConcurrentConnectError{Err: err}
		}
		return nil, err
	}

	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	metricConnections.Inc()
	p.logger.Debug("connection opened", "conn", string(prefix))
	return c, nil
}

// freePrefixLocked returns the first unused tag prefix letter. 'Z' is
// reserved so a tag can never be mistaken for an untagged marker in logs.
func (p *Pool) freePrefixLocked() (byte, bool) {
	for prefix := byte('A'); prefix <= 'Y'; prefix++ {
		if !p.prefixes[prefix] {
			return prefix, true
		}
	}
	return 0, false
}

func (p *Pool) removeConn(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, other := range p.conns {
		if other == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			delete(p.prefixes, c.TagPrefix())
			return true
		}
	}
	return false
}

// onConnShutdown removes a dead connection from the pool. A dropped
// transport usually means a network event affecting the whole account, so
// a try-reconnect error tears down every other connection too; all other
// errors stay scoped to the one connection.
func (p *Pool) onConnShutdown(c *Conn, err error) {
	if !p.removeConn(c) {
		// The connection died during bring-up and was never pooled.
		return
	}
	metricConnections.Dec()

	if !errors.Is(err, imapx.ErrTryReconnect) {
		return
	}
	others := p.Conns()
	if len(others) == 0 {
		return
	}
	p.logger.Info("connection dropped, tearing down account connections",
		"conn", string(c.TagPrefix()), "count", len(others), "err", err)
	for _, other := range others {
		other.Shutdown(err)
	}
}

// Shutdown closes every connection concurrently and marks the pool
// closed.
func (p *Pool) Shutdown(err error) {
	p.mu.Lock()
	p.shutdown = true
	conns := append([]*Conn(nil), p.conns...)
	p.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Shutdown(err)
			return nil
		})
	}
	g.Wait()
}

// findJob looks across all connections for a registered job of one of the
// given kinds matching the mailbox/UID pair.
func (p *Pool) findJob(kinds []JobKind, mailbox string, uid imapx.UID) *Job {
	for _, c := range p.Conns() {
		if j := c.MatchesJob(kinds, mailbox, uid); j != nil {
			return j
		}
	}
	return nil
}

// GetMessage fetches a message body, joining an identical in-flight job
// instead of fetching twice: both callers wait on the same job and the
// same destination stream.
func (p *Pool) GetMessage(ctx context.Context, mailbox string, uid imapx.UID, dest io.WriteSeeker) (*Job, error) {
	if j := p.findJob([]JobKind{JobGetMessage}, mailbox, uid); j != nil {
		return j, nil
	}
	c, err := p.ConnForMailbox(ctx, mailbox, false)
	if err != nil {
		return nil, err
	}
	metricJobs.WithLabelValues(JobGetMessage.String()).Inc()
	return c.GetMessage(ctx, mailbox, uid, dest)
}

// RefreshInfo reconciles the mailbox. A refresh or fetch-new already
// running for the mailbox absorbs the request.
func (p *Pool) RefreshInfo(ctx context.Context, mailbox string) (*Job, error) {
	if j := p.findJob([]JobKind{JobRefreshInfo}, mailbox, 0); j != nil {
		return j, nil
	}
	c, err := p.ConnForMailbox(ctx, mailbox, true)
	if err != nil {
		return nil, err
	}
	metricJobs.WithLabelValues(JobRefreshInfo.String()).Inc()
	return c.RefreshInfo(ctx, mailbox)
}

// FetchNewMessages fetches messages above the highest known UID,
// deduplicated against an already-running fetch or refresh.
func (p *Pool) FetchNewMessages(ctx context.Context, mailbox string) (*Job, error) {
	if j := p.findJob([]JobKind{JobFetchNewMessages, JobRefreshInfo}, mailbox, 0); j != nil {
		return j, nil
	}
	c, err := p.ConnForMailbox(ctx, mailbox, true)
	if err != nil {
		return nil, err
	}
	metricJobs.WithLabelValues(JobFetchNewMessages.String()).Inc()
	return c.FetchNewMessages(ctx, mailbox)
}

// ScanChanges reconciles known messages' flags and deletions.
func (p *Pool) ScanChanges(ctx context.Context, mailbox string) (*Job, error) {
	if j := p.findJob([]JobKind{JobScanChanges, JobRefreshInfo}, mailbox, 0); j != nil {
		return j, nil
	}
	c, err := p.ConnForMailbox(ctx, mailbox, false)
	if err != nil {
		return nil, err
	}
	metricJobs.WithLabelValues(JobScanChanges.String()).Inc()
	return c.ScanChanges(ctx, mailbox)
}

// SyncChanges pushes local flag changes of the mailbox.
func (p *Pool) SyncChanges(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobSyncChanges, func(c *Conn) (*Job, error) {
		return c.SyncChanges(ctx, mailbox)
	})
}

// SyncMessage pushes local flag changes of one message.
func (p *Pool) SyncMessage(ctx context.Context, mailbox string, uid imapx.UID) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobSyncMessage, func(c *Conn) (*Job, error) {
		return c.SyncMessage(ctx, mailbox, uid)
	})
}

// Expunge syncs flags and expunges the mailbox.
func (p *Pool) Expunge(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobExpunge, func(c *Conn) (*Job, error) {
		return c.Expunge(ctx, mailbox)
	})
}

// AppendMessage uploads a spool file into the mailbox.
func (p *Pool) AppendMessage(ctx context.Context, mailbox, path string, flags []imapx.Flag, date time.Time) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobAppendMessage, func(c *Conn) (*Job, error) {
		return c.AppendMessage(ctx, mailbox, path, flags, date)
	})
}

// CopyMessages copies the messages to the destination mailbox.
func (p *Pool) CopyMessages(ctx context.Context, mailbox, destination string, uids []imapx.UID) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobCopyMessages, func(c *Conn) (*Job, error) {
		return c.CopyMessages(ctx, mailbox, destination, uids, false)
	})
}

// MoveMessages moves the messages to the destination mailbox, via MOVE or
// COPY plus deletion.
func (p *Pool) MoveMessages(ctx context.Context, mailbox, destination string, uids []imapx.UID) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobMoveMessages, func(c *Conn) (*Job, error) {
		return c.CopyMessages(ctx, mailbox, destination, uids, true)
	})
}

// List refreshes the account's mailbox list.
func (p *Pool) List(ctx context.Context) (*Job, error) {
	return p.submit(ctx, "", false, JobList, func(c *Conn) (*Job, error) {
		return c.List(ctx)
	})
}

// CreateMailbox creates a mailbox.
func (p *Pool) CreateMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, "", false, JobCreateMailbox, func(c *Conn) (*Job, error) {
		return c.CreateMailbox(ctx, mailbox)
	})
}

// DeleteMailbox deletes a mailbox.
func (p *Pool) DeleteMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobDeleteMailbox, func(c *Conn) (*Job, error) {
		return c.DeleteMailbox(ctx, mailbox)
	})
}

// RenameMailbox renames a mailbox.
func (p *Pool) RenameMailbox(ctx context.Context, oldName, newName string) (*Job, error) {
	return p.submit(ctx, oldName, false, JobRenameMailbox, func(c *Conn) (*Job, error) {
		return c.RenameMailbox(ctx, oldName, newName)
	})
}

// SubscribeMailbox subscribes to a mailbox.
func (p *Pool) SubscribeMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, "", false, JobSubscribeMailbox, func(c *Conn) (*Job, error) {
		return c.SubscribeMailbox(ctx, mailbox)
	})
}

// UnsubscribeMailbox unsubscribes from a mailbox.
func (p *Pool) UnsubscribeMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, "", false, JobUnsubscribeMailbox, func(c *Conn) (*Job, error) {
		return c.UnsubscribeMailbox(ctx, mailbox)
	})
}

// UpdateQuota refreshes the quota usage governing the mailbox.
func (p *Pool) UpdateQuota(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, "", false, JobUpdateQuota, func(c *Conn) (*Job, error) {
		return c.UpdateQuota(ctx, mailbox)
	})
}

// UIDSearch runs a UID SEARCH against the mailbox.
func (p *Pool) UIDSearch(ctx context.Context, mailbox, criteria string) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobUIDSearch, func(c *Conn) (*Job, error) {
		return c.UIDSearch(ctx, mailbox, criteria)
	})
}

// Noop sends a keep-alive NOOP with mailbox affinity.
func (p *Pool) Noop(ctx context.Context, mailbox string) (*Job, error) {
	return p.submit(ctx, mailbox, false, JobNoop, func(c *Conn) (*Job, error) {
		return c.Noop(ctx, mailbox)
	})
}

func (p *Pool) submit(ctx context.Context, mailbox string, expensive bool, kind JobKind, start func(c *Conn) (*Job, error)) (*Job, error) {
	c, err := p.ConnForMailbox(ctx, mailbox, expensive)
	if err != nil {
		return nil, err
	}
	metricJobs.WithLabelValues(kind.String()).Inc()
	return start(c)
}
