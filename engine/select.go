package engine

import (
	"fmt"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/imapwire"
)

// pendingSelect accumulates the untagged data of an in-flight SELECT until
// the tagged OK makes it authoritative.
type pendingSelect struct {
	mailbox string
	counts  imapx.MailboxCounts
	// vanished collects VANISHED (EARLIER) UIDs announced during a QRESYNC
	// select.
	vanished imapx.UIDSet
}

// issueSelect transmits a SELECT for the given mailbox. The caller (the
// scheduler) has already claimed the selecting slot, and the active set is
// empty, so nothing else is on the wire.
func (c *Conn) issueSelect(mailbox string) {
	// The previous mailbox stops being authoritative the moment SELECT goes
	// out; flush what we have at this safe point.
	if prev := c.SelectedMailbox(); prev != "" {
		c.flushChanges(prev)
	}

	cmd := c.newCommand("SELECT", "", PriorityMailboxMgmt, "SELECT %f", mailbox)
	if params := c.selectParams(mailbox); params != "" {
		cmd.Addf(" %t", params)
	}
	cmd.complete = func(cmd *Command) { c.selectDone(mailbox, cmd) }
	cmd.close()
	if cmd.err != nil {
		c.selectFailed(mailbox, cmd.err)
		cmd.markComplete(nil, cmd.err)
		return
	}

	c.selectMu.Lock()
	c.selectData = &pendingSelect{mailbox: mailbox}
	c.selectMu.Unlock()

	metricCommands.WithLabelValues(cmd.name).Inc()
	c.queueMu.Lock()
	c.active = append(c.active, cmd)
	metricActiveCommands.Inc()
	c.queueMu.Unlock()
	select {
	case c.sendCh <- cmd:
	case <-c.shutdownCh:
	}
}

// selectParams builds the optional SELECT parameter list: QRESYNC with the
// summary's last-known state when the extension is enabled, else CONDSTORE
// when available.
func (c *Conn) selectParams(mailbox string) string {
	caps := c.Caps()
	summary, err := c.summary(mailbox)
	if err != nil {
		return ""
	}
	counts := summary.Counts()
	if c.opts.Settings.UseQResync() && caps.Has(imapx.CapQResync) &&
		counts.UIDValidity != 0 && counts.HighestModSeq != 0 {
		return "(" + imapwire.QResyncParams(counts.UIDValidity, counts.HighestModSeq, summary.UIDs()) + ")"
	}
	if caps.Has(imapx.CapCondStore) {
		return "(CONDSTORE)"
	}
	return ""
}

// selectDone applies the outcome of a SELECT's tagged response.
func (c *Conn) selectDone(mailbox string, cmd *Command) {
	c.selectMu.Lock()
	pending := c.selectData
	c.selectData = nil
	c.selectMu.Unlock()

	if err := cmd.result(); err != nil {
		if srvErr, ok := err.(*imapx.ServerError); ok && srvErr.IsPermissionError() {
			c.logger.Info("mailbox selection denied", "mailbox", mailbox, "err", err)
			if c.opts.Store != nil {
				c.opts.Store.SetPermissionDenied(mailbox)
			}
		} else {
			c.logger.Warn("mailbox selection failed", "mailbox", mailbox, "err", err)
		}
		c.selectFailed(mailbox, err)
		return
	}

	status := cmd.Status()

	c.selectMu.Lock()
	c.selected = mailbox
	c.selecting = ""
	c.selectMu.Unlock()
	c.setState(StateSelected)

	if summary, err := c.summary(mailbox); err == nil && pending != nil {
		counts := summary.Counts()
		uidValidityChanged := counts.UIDValidity != 0 &&
			pending.counts.UIDValidity != 0 &&
			counts.UIDValidity != pending.counts.UIDValidity

		counts.Messages = pending.counts.Messages
		counts.Recent = pending.counts.Recent
		if pending.counts.UIDValidity != 0 {
			counts.UIDValidity = pending.counts.UIDValidity
		}
		if pending.counts.UIDNext != 0 {
			counts.UIDNext = pending.counts.UIDNext
		}
		if pending.counts.HighestModSeq != 0 {
			counts.HighestModSeq = pending.counts.HighestModSeq
		}
		if len(pending.counts.PermanentFlags) > 0 {
			counts.PermanentFlags = pending.counts.PermanentFlags
		}
		if status != nil {
			counts.ReadOnly = status.Code == imapx.CodeReadOnly
		}

		if uidValidityChanged {
			// The server invalidated every UID we know. Drop the summary's
			// message list; a refresh-info job rebuilds it.
			c.logger.Info("uidvalidity changed, local summary invalidated",
				"mailbox", mailbox, "old", summary.Counts().UIDValidity, "new", counts.UIDValidity)
			for _, uid := range summary.UIDs() {
				summary.Remove(uid)
			}
		} else if !pending.vanished.Empty() {
			for _, uid := range pending.vanished.Nums() {
				summary.Remove(uid)
				c.recordChange(func(ci *imapx.ChangeInfo) {
					ci.Removed = append(ci.Removed, uid)
				})
			}
		}

		summary.SetCounts(counts)
		if err := summary.Save(); err != nil {
			c.logger.Warn("summary save failed", "mailbox", mailbox, "err", err)
		}
	}

	c.flushChanges(mailbox)
	c.startNext()
}

// selectFailed clears the selecting slot and fails every queued command
// that was waiting for the mailbox, so their jobs do not re-trigger the
// same doomed SELECT.
func (c *Conn) selectFailed(mailbox string, err error) {
	c.selectMu.Lock()
	c.selectData = nil
	c.selecting = ""
	stillSelected := c.selected
	c.selectMu.Unlock()
	if stillSelected == "" {
		c.setState(StateInitialised)
	}

	c.queueMu.Lock()
	var kept, failed []*Command
	for _, qc := range c.queue {
		if qc.mailbox == mailbox {
			failed = append(failed, qc)
		} else {
			kept = append(kept, qc)
		}
	}
	c.queue = kept
	c.queueMu.Unlock()

	for _, qc := range failed {
		qc.markComplete(nil, fmt.Errorf("mailbox %q not selectable: %w", mailbox, err))
	}
	c.startNext()
}

// unselect leaves the selected mailbox without expunging: UNSELECT when
// the server supports it, otherwise a no-op (a later SELECT implicitly
// deselects). Used after destructive mailbox operations.
func (c *Conn) unselect(j *Job) {
	mailbox := c.SelectedMailbox()
	if mailbox == "" {
		return
	}
	c.flushChanges(mailbox)
	if !c.Caps().Has(imapx.CapUnselect) {
		c.selectMu.Lock()
		c.selected = ""
		c.selectMu.Unlock()
		c.setState(StateInitialised)
		return
	}

	c.selectMu.Lock()
	c.closing = mailbox
	c.selectMu.Unlock()
	cmd := c.newCommand("UNSELECT", "", PriorityMailboxMgmt, "UNSELECT")
	c.enqueueJobCommand(j, cmd, func(cmd *Command) error {
		c.selectMu.Lock()
		if c.selected == mailbox {
			c.selected = ""
		}
		c.closing = ""
		c.selectMu.Unlock()
		if c.SelectedMailbox() == "" {
			c.setState(StateInitialised)
		}
		return nil
	})
}
