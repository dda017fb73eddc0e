package engine

import (
	"context"

	"github.com/emersion/go-imapx"
)

type refreshPhase int

const (
	refreshPhaseSync refreshPhase = iota
	refreshPhasePoke
	refreshPhaseFetchNew
	refreshPhaseScan
)

// RefreshInfoData is the payload shared by the refresh-info,
// fetch-new-messages and scan-changes jobs.
type RefreshInfoData struct {
	phase refreshPhase

	// baseline is the summary's counters before the poke, i.e. the local
	// cache's last-known server state.
	baseline    imapx.MailboxCounts
	knownBefore int
	maxKnown    imapx.UID

	newRows []*imapx.MessageInfo
	scanned map[imapx.UID]imapx.FlagSet

	// Changes accumulates what the reconciliation did, for the caller that
	// waits on the job.
	Changes imapx.ChangeInfo
}

// RefreshInfo fully reconciles the mailbox: local flag changes are pushed
// first so counts are meaningful, then the server's counters are compared
// against the cached ones, and only on disagreement are new messages
// fetched and the full flag/UID set merged.
func (c *Conn) RefreshInfo(ctx context.Context, mailbox string) (*Job, error) {
	return c.startRefresh(ctx, JobRefreshInfo, mailbox)
}

// FetchNewMessages fetches messages above the highest known UID without
// scanning existing ones.
func (c *Conn) FetchNewMessages(ctx context.Context, mailbox string) (*Job, error) {
	return c.startRefresh(ctx, JobFetchNewMessages, mailbox)
}

// ScanChanges reconciles flags and deletions of already-known messages
// without looking for new ones.
func (c *Conn) ScanChanges(ctx context.Context, mailbox string) (*Job, error) {
	return c.startRefresh(ctx, JobScanChanges, mailbox)
}

func (c *Conn) startRefresh(ctx context.Context, kind JobKind, mailbox string) (*Job, error) {
	priority := PriorityRefreshInfo
	if kind == JobFetchNewMessages {
		priority = PriorityNewMessages
	}
	j := newJob(ctx, kind, priority, mailbox)
	data := &RefreshInfoData{scanned: make(map[imapx.UID]imapx.FlagSet)}
	j.SetData(data, func() { c.removeFetchObserver(j.id) })

	j.start = func(j *Job) error {
		c.addFetchObserver(j.id, func(respMailbox string, fd *imapx.FetchData) bool {
			return c.observeRefreshFetch(j, data, respMailbox, fd)
		})
		if kind == JobRefreshInfo {
			// Phase 1: push local changes upstream so the comparison below
			// compares server state against server state.
			_, err := c.issueFlagSync(j, mailbox, nil, kind, func() {
				c.refreshPoke(j, data)
			})
			return err
		}
		c.refreshPoke(j, data)
		return nil
	}
	return j, c.Submit(j)
}

// observeRefreshFetch claims the untagged FETCH responses belonging to the
// job's current phase; everything else falls through to the default
// unsolicited handling.
func (c *Conn) observeRefreshFetch(j *Job, data *RefreshInfoData, mailbox string, fd *imapx.FetchData) bool {
	if mailbox != j.mailbox || !fd.Attrs.Has(imapx.FetchAttrUID) {
		return false
	}
	switch data.phase {
	case refreshPhaseFetchNew:
		if fd.UID <= data.maxKnown {
			return false
		}
		data.newRows = append(data.newRows, &imapx.MessageInfo{
			UID:         fd.UID,
			Flags:       imapx.NewFlagSet(fd.Flags...),
			ServerFlags: imapx.NewFlagSet(fd.Flags...),
			Size:        fd.Size,
			ModSeq:      fd.ModSeq,
			Date:        fd.InternalDate,
			Header:      fd.Header,
		})
		return true
	case refreshPhaseScan:
		if !fd.Attrs.Has(imapx.FetchAttrFlags) || fd.UID > data.maxKnown {
			return false
		}
		data.scanned[fd.UID] = imapx.NewFlagSet(fd.Flags...)
		return true
	}
	return false
}

// refreshPoke captures the local baseline and issues a cheap counter
// refresh: NOOP when the mailbox is already selected (its untagged
// responses update the counters), STATUS otherwise.
func (c *Conn) refreshPoke(j *Job, data *RefreshInfoData) {
	data.phase = refreshPhasePoke
	summary, err := c.summary(j.mailbox)
	if err != nil {
		j.SetError(err)
		return
	}
	data.baseline = summary.Counts()
	uids := summary.UIDs()
	data.knownBefore = len(uids)
	if len(uids) > 0 {
		data.maxKnown = uids[len(uids)-1]
	}

	var cmd *Command
	if c.SelectedMailbox() == j.mailbox {
		cmd = c.newCommand("NOOP", j.mailbox, j.priority, "NOOP")
	} else if j.kind == JobScanChanges || c.Caps().Has(imapx.CapCondStore) {
		// Forcing the selection brings QRESYNC/CONDSTORE counter updates
		// along with it.
		cmd = c.newCommand("NOOP", j.mailbox, j.priority, "NOOP")
	} else {
		cmd = c.newCommand("STATUS", "", j.priority,
			"STATUS %f (MESSAGES UNSEEN UIDNEXT UIDVALIDITY HIGHESTMODSEQ)", j.mailbox)
	}
	c.enqueueJobCommand(j, cmd, func(*Command) error {
		c.refreshCompare(j, data)
		return nil
	})
}

// refreshCompare decides whether anything changed server-side since the
// baseline and advances to the fetch/scan phases only when it did.
func (c *Conn) refreshCompare(j *Job, data *RefreshInfoData) {
	summary, err := c.summary(j.mailbox)
	if err != nil {
		j.SetError(err)
		return
	}
	counts := summary.Counts()

	upToDate := counts.UIDValidity == data.baseline.UIDValidity &&
		counts.UIDNext == data.baseline.UIDNext &&
		counts.HighestModSeq == data.baseline.HighestModSeq &&
		counts.Messages == uint32(data.knownBefore)
	if upToDate {
		return
	}

	hasNew := counts.UIDNext > data.baseline.UIDNext ||
		counts.Messages > uint32(data.knownBefore) ||
		data.baseline.UIDNext == 0
	if j.kind != JobScanChanges && hasNew {
		c.issueFetchNew(j, data)
		return
	}
	if j.kind != JobFetchNewMessages {
		c.issueScan(j, data)
	}
}

// issueFetchNew fetches flags, size, header and date of every message
// above the highest known UID in one round-trip.
func (c *Conn) issueFetchNew(j *Job, data *RefreshInfoData) {
	data.phase = refreshPhaseFetchNew
	cmd := c.newCommand("FETCH", j.mailbox, j.priority,
		"UID FETCH %u:* (UID FLAGS RFC822.SIZE RFC822.HEADER INTERNALDATE)", data.maxKnown+1)
	c.enqueueJobCommand(j, cmd, func(*Command) error {
		c.applyNewRows(j, data)
		if j.kind == JobRefreshInfo || j.kind == JobScanChanges {
			c.issueScan(j, data)
		}
		return nil
	})
}

// applyNewRows inserts the accumulated header rows into the summary.
func (c *Conn) applyNewRows(j *Job, data *RefreshInfoData) {
	if len(data.newRows) == 0 {
		return
	}
	summary, err := c.summary(j.mailbox)
	if err != nil {
		j.SetError(err)
		return
	}
	for _, row := range data.newRows {
		if _, exists := summary.Get(row.UID); exists {
			continue
		}
		summary.Add(row)
		data.Changes.Added = append(data.Changes.Added, row.UID)
		uid := row.UID
		c.recordChange(func(ci *imapx.ChangeInfo) {
			ci.Added = append(ci.Added, uid)
		})
		if row.UID > data.maxKnown {
			data.maxKnown = row.UID
		}
	}
	data.newRows = nil
	c.saveSummary(j.mailbox)
}

// issueScan fetches UID+FLAGS for every known message, batched by the
// configured fetch count, and merges the result against the summary.
func (c *Conn) issueScan(j *Job, data *RefreshInfoData) {
	data.phase = refreshPhaseScan
	summary, err := c.summary(j.mailbox)
	if err != nil {
		j.SetError(err)
		return
	}
	known := summary.UIDs()
	// Rows added by the fetch-new phase are already authoritative.
	for len(known) > 0 && known[len(known)-1] > data.maxKnown {
		known = known[:len(known)-1]
	}
	if len(known) == 0 {
		return
	}

	b := imapx.UIDSetBatcher{UIDLimit: c.opts.Settings.BatchFetchCount()}
	var frags []string
	for _, uid := range known {
		if frag, full := b.Add(uid); full {
			frags = append(frags, frag)
		}
	}
	if frag := b.Flush(); frag != "" {
		frags = append(frags, frag)
	}

	remaining := len(frags)
	for _, frag := range frags {
		cmd := c.newCommand("FETCH", j.mailbox, j.priority, "UID FETCH %t (UID FLAGS)", frag)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			remaining--
			if remaining == 0 {
				c.mergeScan(j, data)
			}
			return nil
		})
	}
}

// mergeScan is the reconciliation merge: known UIDs missing from the scan
// were expunged server-side, present ones get their flags folded in.
func (c *Conn) mergeScan(j *Job, data *RefreshInfoData) {
	summary, err := c.summary(j.mailbox)
	if err != nil {
		j.SetError(err)
		return
	}
	for _, uid := range summary.UIDs() {
		if uid > data.maxKnown {
			continue
		}
		server, ok := data.scanned[uid]
		if !ok {
			summary.Remove(uid)
			data.Changes.Removed = append(data.Changes.Removed, uid)
			uid := uid
			c.recordChange(func(ci *imapx.ChangeInfo) {
				ci.Removed = append(ci.Removed, uid)
			})
			continue
		}
		info, found := summary.Get(uid)
		if !found {
			continue
		}
		if c.applyServerFlags(info, server) {
			summary.Update(info)
			data.Changes.Changed = append(data.Changes.Changed, uid)
			uid := uid
			c.recordChange(func(ci *imapx.ChangeInfo) {
				ci.Changed = append(ci.Changed, uid)
			})
		}
	}

	counts := summary.Counts()
	counts.Messages = uint32(len(summary.UIDs()))
	summary.SetCounts(counts)
	c.saveSummary(j.mailbox)
}
