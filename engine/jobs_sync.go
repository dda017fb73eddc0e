package engine

import (
	"context"
	"sort"

	"github.com/emersion/go-imapx"
)

// flagOp is one direction of flag change for one flag across a UID set.
type flagOp struct {
	flag imapx.Flag
	add  bool
	set  imapx.UIDSet
}

// planFlagSync computes the symmetric difference between local flags and
// the last server-acknowledged flags, per flag and per direction. uids nil
// means every message in the mailbox.
//
// When a real Trash folder is configured, locally deleted messages are
// moved there instead of being flagged for expunge, so the \Deleted flag
// is stripped before the comparison. The expunge job is the one caller
// that must push \Deleted, hence the kind check.
func (c *Conn) planFlagSync(mailbox string, uids []imapx.UID, kind JobKind) ([]flagOp, error) {
	summary, err := c.summary(mailbox)
	if err != nil {
		return nil, err
	}
	removeDeleted := c.opts.Settings.UseRealTrashPath() && kind != JobExpunge

	if uids == nil {
		uids = summary.UIDs()
	}
	adds := make(map[imapx.Flag]*imapx.UIDSet)
	removes := make(map[imapx.Flag]*imapx.UIDSet)
	into := func(m map[imapx.Flag]*imapx.UIDSet, f imapx.Flag, uid imapx.UID) {
		set, ok := m[f]
		if !ok {
			set = &imapx.UIDSet{}
			m[f] = set
		}
		set.AddNum(uid)
	}

	for _, uid := range uids {
		info, ok := summary.Get(uid)
		if !ok {
			continue
		}
		if removeDeleted && info.Flags.Has(imapx.FlagDeleted) {
			info.Flags.Remove(imapx.FlagDeleted)
			summary.Update(info)
		}
		for _, f := range info.Flags.Diff(info.ServerFlags) {
			if f == imapx.FlagRecent {
				continue
			}
			into(adds, f, uid)
		}
		for _, f := range info.ServerFlags.Diff(info.Flags) {
			if f == imapx.FlagRecent {
				continue
			}
			into(removes, f, uid)
		}
	}

	var ops []flagOp
	for f, set := range adds {
		ops = append(ops, flagOp{flag: f, add: true, set: *set})
	}
	for f, set := range removes {
		ops = append(ops, flagOp{flag: f, add: false, set: *set})
	}
	sort.Slice(ops, func(i, k int) bool {
		if ops[i].flag != ops[k].flag {
			return ops[i].flag < ops[k].flag
		}
		return ops[i].add && !ops[k].add
	})
	return ops, nil
}

// issueFlagSync turns the flag plan into batched UID STORE commands and
// returns how many were issued. then runs after the last one completes
// (immediately when the plan is empty). Completion handlers run on the
// reader goroutine, one at a time, so the countdown needs no lock.
func (c *Conn) issueFlagSync(j *Job, mailbox string, uids []imapx.UID, kind JobKind, then func()) (int, error) {
	ops, err := c.planFlagSync(mailbox, uids, kind)
	if err != nil {
		return 0, err
	}

	type fragment struct {
		op  flagOp
		set string
	}
	var frags []fragment
	for _, op := range ops {
		b := imapx.UIDSetBatcher{UIDLimit: c.opts.Settings.BatchFetchCount()}
		for _, uid := range op.set.Nums() {
			if frag, full := b.Add(uid); full {
				frags = append(frags, fragment{op, frag})
			}
		}
		if frag := b.Flush(); frag != "" {
			frags = append(frags, fragment{op, frag})
		}
	}

	if len(frags) == 0 {
		if then != nil {
			then()
		}
		return 0, nil
	}

	remaining := len(frags)
	for _, fr := range frags {
		dir := "+"
		if !fr.op.add {
			dir = "-"
		}
		cmd := c.newCommand("STORE", mailbox, j.priority,
			"UID STORE %t %tFLAGS.SILENT (%t)", fr.set, dir, string(imapx.FlagToWire(fr.op.flag)))
		fr := fr
		c.enqueueJobCommand(j, cmd, func(*Command) error {
			c.ackStoredFlags(mailbox, fr.set, fr.op)
			remaining--
			if remaining == 0 && then != nil {
				then()
			}
			return nil
		})
	}
	return len(frags), nil
}

// ackStoredFlags records that the server accepted a flag change, moving
// the affected UIDs' server-flag baseline so the next sync sees no diff.
func (c *Conn) ackStoredFlags(mailbox, frag string, op flagOp) {
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	set, err := imapx.ParseUIDSet(frag)
	if err != nil {
		return
	}
	for _, uid := range set.Nums() {
		info, ok := summary.Get(uid)
		if !ok {
			continue
		}
		if info.ServerFlags == nil {
			info.ServerFlags = imapx.NewFlagSet()
		}
		if op.add {
			info.ServerFlags.Add(op.flag)
		} else {
			info.ServerFlags.Remove(op.flag)
		}
		summary.Update(info)
	}
}

// SyncChanges pushes every local flag change of the mailbox to the server.
// Running it again without intervening changes issues no commands.
func (c *Conn) SyncChanges(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobSyncChanges, PrioritySyncChanges, mailbox)
	j.start = func(j *Job) error {
		_, err := c.issueFlagSync(j, mailbox, nil, JobSyncChanges, func() {
			c.saveSummary(mailbox)
		})
		return err
	}
	return j, c.Submit(j)
}

// SyncMessage pushes the flag changes of a single message, at the lowest
// priority so it never delays interactive work.
func (c *Conn) SyncMessage(ctx context.Context, mailbox string, uid imapx.UID) (*Job, error) {
	j := newJob(ctx, JobSyncMessage, PrioritySyncMessage, mailbox)
	j.uid = uid
	j.start = func(j *Job) error {
		_, err := c.issueFlagSync(j, mailbox, []imapx.UID{uid}, JobSyncMessage, func() {
			c.saveSummary(mailbox)
		})
		return err
	}
	return j, c.Submit(j)
}

// Expunge pushes local flag changes (including \Deleted, regardless of the
// Trash setting), expunges the mailbox, and reconciles the persisted
// deleted-UID list against what the server actually removed.
func (c *Conn) Expunge(ctx context.Context, mailbox string) (*Job, error) {
	j := newJob(ctx, JobExpunge, PriorityExpunge, mailbox)
	j.start = func(j *Job) error {
		_, err := c.issueFlagSync(j, mailbox, nil, JobExpunge, func() {
			c.issueExpunge(j, mailbox)
		})
		return err
	}
	return j, c.Submit(j)
}

func (c *Conn) issueExpunge(j *Job, mailbox string) {
	var cmd *Command
	if c.Caps().Has(imapx.CapUIDPlus) {
		// UID EXPUNGE only touches the messages we flagged, leaving other
		// sessions' deletions alone.
		summary, err := c.summary(mailbox)
		if err == nil {
			var deleted imapx.UIDSet
			for _, uid := range summary.UIDs() {
				if info, ok := summary.Get(uid); ok && info.Flags.Has(imapx.FlagDeleted) {
					deleted.AddNum(uid)
				}
			}
			if !deleted.Empty() {
				cmd = c.newCommand("EXPUNGE", mailbox, j.priority, "UID EXPUNGE %t", deleted.String())
			}
		}
	}
	if cmd == nil {
		cmd = c.newCommand("EXPUNGE", mailbox, j.priority, "EXPUNGE")
	}

	c.enqueueJobCommand(j, cmd, func(*Command) error {
		c.reconcileDeleted(mailbox)
		c.saveSummary(mailbox)
		return nil
	})
}

// reconcileDeleted drops summary rows for UIDs in the persisted
// deleted-UID list that the untagged EXPUNGE/VANISHED responses did not
// already remove.
func (c *Conn) reconcileDeleted(mailbox string) {
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	for _, uid := range summary.DeletedUIDs() {
		info, ok := summary.Get(uid)
		if !ok || !info.Flags.Has(imapx.FlagDeleted) {
			continue
		}
		summary.Remove(uid)
		c.recordChange(func(ci *imapx.ChangeInfo) {
			ci.Removed = append(ci.Removed, uid)
		})
	}
}

// saveSummary persists the mailbox summary, logging rather than failing
// the job on a local write error.
func (c *Conn) saveSummary(mailbox string) {
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	if err := summary.Save(); err != nil {
		c.logger.Warn("summary save failed", "mailbox", mailbox, "err", err)
	}
}
