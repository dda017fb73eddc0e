package engine

import (
	"context"
	"fmt"

	"github.com/emersion/go-imapx"
)

// List refreshes the account's mailbox list. With LIST-EXTENDED the
// subscription state (and, with LIST-STATUS, the counters) come back in
// one command; older servers get a LIST followed by an LSUB. The rows are
// forwarded to the store summary as they arrive.
func (c *Conn) List(ctx context.Context) (*Job, error) {
	j := newJob(ctx, JobList, PriorityList, "")
	j.start = func(j *Job) error {
		caps := c.Caps()
		if caps.Has(imapx.CapListExtended) {
			var cmd *Command
			if caps.Has(imapx.CapListStatus) {
				cmd = c.newCommand("LIST", "", j.priority,
					`LIST "" "*" RETURN (SUBSCRIBED STATUS (MESSAGES UNSEEN UIDNEXT UIDVALIDITY HIGHESTMODSEQ))`)
			} else {
				cmd = c.newCommand("LIST", "", j.priority, `LIST "" "*" RETURN (SUBSCRIBED)`)
			}
			c.enqueueJobCommand(j, cmd, nil)
			return nil
		}

		cmd := c.newCommand("LIST", "", j.priority, `LIST "" "*"`)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			lsub := c.newCommand("LSUB", "", j.priority, `LSUB "" "*"`)
			c.enqueueJobCommand(j, lsub, nil)
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// CreateMailbox creates the mailbox on the server and mirrors it into the
// store summary.
func (c *Conn) CreateMailbox(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobCreateMailbox, PriorityMailboxMgmt, "")
	j.start = func(j *Job) error {
		cmd := c.newCommand("CREATE", "", j.priority, "CREATE %f", mailbox)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			if c.opts.Store != nil {
				c.opts.Store.AddMailbox(&imapx.MailboxInfo{Name: mailbox})
			}
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// DeleteMailbox removes the mailbox. A selected mailbox is unselected
// first; some servers refuse to DELETE the mailbox a session has open.
func (c *Conn) DeleteMailbox(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobDeleteMailbox, PriorityMailboxMgmt, "")
	j.start = func(j *Job) error {
		if c.SelectedMailbox() == mailbox {
			c.unselect(j)
		}
		cmd := c.newCommand("DELETE", "", j.priority, "DELETE %f", mailbox)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			if c.opts.Store != nil {
				c.opts.Store.RemoveMailbox(mailbox)
			}
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// RenameMailbox renames the mailbox server-side and in the store summary.
// The selected mailbox is unselected first so the session does not keep a
// stale name open.
func (c *Conn) RenameMailbox(ctx context.Context, oldName, newName string) (*Job, error) {
	j := newJob(ctx, JobRenameMailbox, PriorityMailboxMgmt, "")
	j.start = func(j *Job) error {
		if c.SelectedMailbox() == oldName {
			c.unselect(j)
		}
		cmd := c.newCommand("RENAME", "", j.priority, "RENAME %f %f", oldName, newName)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			if c.opts.Store != nil {
				c.opts.Store.RenameMailbox(oldName, newName)
			}
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// SubscribeMailbox subscribes to the mailbox.
func (c *Conn) SubscribeMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return c.setSubscription(ctx, mailbox, true)
}

// UnsubscribeMailbox unsubscribes from the mailbox.
func (c *Conn) UnsubscribeMailbox(ctx context.Context, mailbox string) (*Job, error) {
	return c.setSubscription(ctx, mailbox, false)
}

func (c *Conn) setSubscription(ctx context.Context, mailbox string, subscribe bool) (*Job, error) {
	kind, name := JobSubscribeMailbox, "SUBSCRIBE"
	if !subscribe {
		kind, name = JobUnsubscribeMailbox, "UNSUBSCRIBE"
	}
	j := newJob(ctx, kind, PriorityMailboxMgmt, "")
	j.start = func(j *Job) error {
		cmd := c.newCommand(name, "", j.priority, "%t %f", name, mailbox)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			if c.opts.Store != nil {
				c.opts.Store.SetSubscribed(mailbox, subscribe)
			}
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// UpdateQuota refreshes the quota usage governing the mailbox. The
// untagged QUOTAROOT/QUOTA responses carry the data to the store summary;
// without the QUOTA capability the job completes without traffic.
func (c *Conn) UpdateQuota(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobUpdateQuota, PriorityList, "")
	j.start = func(j *Job) error {
		if !c.Caps().Has(imapx.CapQuota) {
			return nil
		}
		cmd := c.newCommand("GETQUOTAROOT", "", j.priority, "GETQUOTAROOT %f", mailbox)
		c.enqueueJobCommand(j, cmd, nil)
		return nil
	}
	return j, c.Submit(j)
}

// UIDSearchData is the uid-search job payload; UIDs holds the result.
type UIDSearchData struct {
	Criteria string
	UIDs     []imapx.UID
}

// UIDSearch runs a UID SEARCH with raw RFC 3501 search criteria against
// the mailbox and collects the resulting UIDs into the job data.
func (c *Conn) UIDSearch(ctx context.Context, mailbox, criteria string) (*Job, error) {
	if criteria == "" {
		return nil, fmt.Errorf("imapx: empty search criteria")
	}
	j := newJob(ctx, JobUIDSearch, PrioritySearch, mailbox)
	data := &UIDSearchData{Criteria: criteria}
	j.SetData(data, nil)
	j.start = func(j *Job) error {
		cmd := c.newCommand("SEARCH", mailbox, j.priority, "UID SEARCH %t", criteria)
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			data.UIDs = c.takeSearchResults()
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// Noop sends a NOOP, optionally with mailbox affinity so the untagged
// responses refresh that mailbox's counters.
func (c *Conn) Noop(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobNoop, PriorityNoop, mailbox)
	j.start = func(j *Job) error {
		cmd := c.newCommand("NOOP", mailbox, j.priority, "NOOP")
		c.enqueueJobCommand(j, cmd, nil)
		return nil
	}
	return j, c.Submit(j)
}
