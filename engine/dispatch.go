package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/imapwire"
)

// errCommandCompleted unblocks a literal writer whose command finished
// before the server prompted for the payload (tagged NO/BAD).
var errCommandCompleted = errors.New("imapx: command completed before continuation")

// handleTagged completes the command matching the tag. "tag SP" has been
// consumed. A tag that matches no queued command is a protocol violation
// and kills the connection.
func (c *Conn) handleTagged(tag string) error {
	dec := c.dec
	var typName string
	if !dec.ExpectAtom(&typName) || !dec.ExpectSP() {
		return &imapx.ProtocolError{Context: "tagged response", Err: dec.Err()}
	}
	status, err := imapwire.ReadStatusResponse(dec, imapx.StatusType(strings.ToUpper(typName)))
	if err != nil {
		return &imapx.ProtocolError{Context: "tagged response", Err: err}
	}
	if !dec.ExpectCRLF() {
		return &imapx.ProtocolError{Context: "tagged response", Err: dec.Err()}
	}

	c.noteStatusCodes(status)

	c.queueMu.Lock()
	var cmd *Command
	for _, a := range c.active {
		if a.tag == tag {
			cmd = a
			break
		}
	}
	var cont *imapwire.ContinuationRequest
	if cmd != nil {
		c.removeActiveLocked(cmd)
		if c.literal == cmd {
			c.literal = nil
			cont = c.contReq
			c.contReq = nil
		}
	}
	c.queueMu.Unlock()

	if cmd == nil {
		return &imapx.ProtocolError{
			Context: "tagged response",
			Err:     fmt.Errorf("unknown tag %q", tag),
		}
	}
	if cont != nil {
		cont.Cancel(errCommandCompleted)
	}

	c.touch()
	// Tagged completion is a safe point: hand accumulated changes to the
	// summary before the command's owner reacts.
	c.flushChanges(cmd.mailbox)
	cmd.markComplete(status, nil)
	c.startNext()
	return nil
}

// handleUntagged reads one untagged response. "* SP" has been consumed.
func (c *Conn) handleUntagged() error {
	dec := c.dec

	if num, ok := dec.Number(); ok {
		if !dec.ExpectSP() {
			return &imapx.ProtocolError{Context: "untagged response", Err: dec.Err()}
		}
		var name string
		if !dec.ExpectAtom(&name) {
			return &imapx.ProtocolError{Context: "untagged response", Err: dec.Err()}
		}
		switch strings.ToUpper(name) {
		case "EXISTS":
			c.onExists(num)
		case "RECENT":
			c.onRecent(num)
		case "EXPUNGE":
			c.onExpunge(num)
		case "FETCH":
			if !dec.ExpectSP() {
				return &imapx.ProtocolError{Context: "fetch", Err: dec.Err()}
			}
			sink := func(offset, size int64, r io.Reader) error {
				return c.routeBody(num, offset, size, r)
			}
			data, err := imapwire.ReadFetchData(dec, num, sink)
			if err != nil {
				return &imapx.ProtocolError{Context: "fetch", Err: err}
			}
			c.onFetch(data)
		default:
			c.logger.Debug("ignoring unknown numeric response", "name", name)
			if !dec.SkipLine() {
				return dec.Err()
			}
			return nil
		}
		if !dec.ExpectCRLF() {
			return &imapx.ProtocolError{Context: "untagged response", Err: dec.Err()}
		}
		return nil
	}

	var name string
	if !dec.ExpectAtom(&name) {
		return &imapx.ProtocolError{Context: "untagged response", Err: dec.Err()}
	}
	keyword := strings.ToUpper(name)
	switch keyword {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		dec.SP()
		status, err := imapwire.ReadStatusResponse(dec, imapx.StatusType(keyword))
		if err != nil {
			return &imapx.ProtocolError{Context: "status", Err: err}
		}
		if !dec.ExpectCRLF() {
			return &imapx.ProtocolError{Context: "status", Err: dec.Err()}
		}
		return c.onStatusLine(status)

	case "CAPABILITY":
		caps, err := imapwire.ReadCapabilities(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "capability", Err: err}
		}
		c.setCaps(caps)

	case "FLAGS":
		// Applicable flags; PERMANENTFLAGS is the authoritative subset.
		if !dec.ExpectSP() {
			return &imapx.ProtocolError{Context: "flags", Err: dec.Err()}
		}
		if _, err := imapwire.ReadFlagList(dec); err != nil {
			return &imapx.ProtocolError{Context: "flags", Err: err}
		}

	case "LIST":
		info, err := imapwire.ReadListData(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "list", Err: err}
		}
		c.onList(info, false)

	case "LSUB":
		info, err := imapwire.ReadListData(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "lsub", Err: err}
		}
		c.onList(info, true)

	case "STATUS":
		mailbox, counts, err := imapwire.ReadStatusData(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "status data", Err: err}
		}
		c.onStatusData(mailbox, counts)

	case "SEARCH":
		uids, err := imapwire.ReadSearchData(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "search", Err: err}
		}
		c.searchMu.Lock()
		c.searchResults = append(c.searchResults, uids...)
		c.searchMu.Unlock()

	case "VANISHED":
		earlier, uids, err := imapwire.ReadVanished(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "vanished", Err: err}
		}
		c.onVanished(earlier, uids)

	case "QUOTA":
		root, quotas, err := imapwire.ReadQuotaData(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "quota", Err: err}
		}
		c.onQuota(root, quotas)

	case "QUOTAROOT":
		if err := c.readQuotaRoot(); err != nil {
			return &imapx.ProtocolError{Context: "quotaroot", Err: err}
		}

	case "NAMESPACE":
		ns, err := imapwire.ReadNamespace(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "namespace", Err: err}
		}
		c.extMu.Lock()
		c.namespace = ns
		c.extMu.Unlock()

	case "ENABLED":
		caps, err := imapwire.ReadCapabilities(dec)
		if err != nil {
			return &imapx.ProtocolError{Context: "enabled", Err: err}
		}
		if caps.Has(imapx.CapQResync) {
			c.extMu.Lock()
			c.qresyncEnabled = true
			c.extMu.Unlock()
		}

	default:
		c.logger.Debug("ignoring unknown untagged response", "name", name)
		if !dec.SkipLine() {
			return dec.Err()
		}
		return nil
	}

	if !dec.ExpectCRLF() {
		return &imapx.ProtocolError{Context: "untagged response", Err: dec.Err()}
	}
	return nil
}

// onStatusLine processes an untagged OK/NO/BAD/BYE/PREAUTH.
func (c *Conn) onStatusLine(status *imapx.StatusResponse) error {
	c.noteStatusCodes(status)

	switch status.Type {
	case imapx.StatusBye:
		// Either a response to LOGOUT or a server-initiated disconnect; in
		// both cases the stream is over. The read loop translates the error
		// into a shutdown.
		return fmt.Errorf("%w: server closed connection: %v", imapx.ErrTryReconnect, status.Text)
	case imapx.StatusNo, imapx.StatusBad:
		c.logger.Info("untagged error from server", "type", string(status.Type), "text", status.Text)
	}
	return nil
}

// noteStatusCodes applies side effects common to tagged and untagged
// status lines: alert forwarding, capability refresh, CLOSED flush, and
// counter codes of the in-flight selection.
func (c *Conn) noteStatusCodes(status *imapx.StatusResponse) {
	if len(status.Capabilities) > 0 {
		c.setCaps(status.Capabilities)
	}

	switch status.Code {
	case imapx.CodeAlert:
		c.onAlert(status.Text)
		return
	case imapx.CodeClosed:
		// QRESYNC: the previously selected mailbox is now closed; everything
		// accumulated for it must be flushed before new responses arrive.
		c.selectMu.Lock()
		prev := c.selected
		c.selected = ""
		c.selectMu.Unlock()
		c.flushChanges(prev)
		return
	}

	// During a SELECT, the counter codes describe the mailbox being opened.
	c.selectMu.Lock()
	pending := c.selectData
	c.selectMu.Unlock()
	if pending == nil {
		return
	}
	switch status.Code {
	case imapx.CodeUIDValidity:
		pending.counts.UIDValidity = status.UIDValidity
	case imapx.CodeUIDNext:
		pending.counts.UIDNext = status.UIDNext
	case imapx.CodeHighestModSeq:
		pending.counts.HighestModSeq = status.HighestModSeq
	case imapx.CodeUnseen:
		pending.counts.Unseen = status.Unseen
	case imapx.CodePermanentFlags:
		pending.counts.PermanentFlags = status.PermanentFlags
	}
}

// onAlert forwards an ALERT text to the user once per connection.
func (c *Conn) onAlert(text string) {
	if text == "" {
		return
	}
	c.alertsMu.Lock()
	_, known := c.knownAlerts[text]
	if !known {
		c.knownAlerts[text] = struct{}{}
	}
	c.alertsMu.Unlock()
	if known {
		return
	}
	c.logger.Warn("server alert", "text", text)
	if c.opts.OnAlert != nil {
		c.opts.OnAlert(text)
	}
}

// currentMailbox is the mailbox untagged mailbox-data applies to: the one
// being selected if a SELECT is in flight, else the selected one.
func (c *Conn) currentMailbox() (mailbox string, pending *pendingSelect) {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()
	if c.selectData != nil {
		return c.selectData.mailbox, c.selectData
	}
	return c.selected, nil
}

func (c *Conn) onExists(num uint32) {
	mailbox, pending := c.currentMailbox()
	if pending != nil {
		pending.counts.Messages = num
		return
	}
	if mailbox == "" {
		return
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	counts := summary.Counts()
	grew := num > counts.Messages
	counts.Messages = num
	summary.SetCounts(counts)
	if grew {
		c.logger.Debug("new messages announced", "mailbox", mailbox, "messages", num)
		if c.opts.OnNewMessages != nil {
			c.opts.OnNewMessages(mailbox)
		}
	}
}

func (c *Conn) onRecent(num uint32) {
	mailbox, pending := c.currentMailbox()
	if pending != nil {
		pending.counts.Recent = num
		return
	}
	if mailbox == "" {
		return
	}
	if summary, err := c.summary(mailbox); err == nil {
		counts := summary.Counts()
		counts.Recent = num
		summary.SetCounts(counts)
	}
}

// onExpunge removes the message at the given sequence number. Sequence
// numbers shift down with each EXPUNGE, which the summary's ordered UID
// list models directly.
func (c *Conn) onExpunge(seqNum uint32) {
	mailbox, pending := c.currentMailbox()
	if pending != nil || mailbox == "" {
		return
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	uid := summary.UIDAt(seqNum)
	if uid == 0 {
		c.logger.Debug("expunge for unknown sequence number", "mailbox", mailbox, "seq", seqNum)
		return
	}
	summary.Remove(uid)
	counts := summary.Counts()
	if counts.Messages > 0 {
		counts.Messages--
	}
	summary.SetCounts(counts)
	c.recordChange(func(ci *imapx.ChangeInfo) {
		ci.Removed = append(ci.Removed, uid)
	})
}

// onVanished removes a whole UID set at once (RFC 7162). The EARLIER
// qualifier during a QRESYNC select is routed to the pending selection.
func (c *Conn) onVanished(earlier bool, uids imapx.UIDSet) {
	mailbox, pending := c.currentMailbox()
	if pending != nil {
		if earlier {
			pending.vanished.AddNum(uids.Nums()...)
		}
		return
	}
	if mailbox == "" {
		return
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	counts := summary.Counts()
	for _, uid := range uids.Nums() {
		if _, ok := summary.Get(uid); !ok {
			continue
		}
		summary.Remove(uid)
		if counts.Messages > 0 {
			counts.Messages--
		}
		c.recordChange(func(ci *imapx.ChangeInfo) {
			ci.Removed = append(ci.Removed, uid)
		})
	}
	summary.SetCounts(counts)
}

// routeBody streams a BODY[] literal to the sink registered for the UID at
// the given sequence number, or discards it.
func (c *Conn) routeBody(seqNum uint32, offset, size int64, r io.Reader) error {
	mailbox, _ := c.currentMailbox()
	if mailbox == "" {
		return nil
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		return nil
	}
	uid := summary.UIDAt(seqNum)
	c.extMu.Lock()
	sink := c.bodySinks[uid]
	c.extMu.Unlock()
	if sink == nil {
		c.logger.Debug("discarding unrequested body literal", "mailbox", mailbox, "uid", uint32(uid), "size", size)
		return nil
	}
	return sink(offset, size, r)
}

// onFetch applies one FETCH response: a registered job observer may claim
// it; otherwise it is an unsolicited flag update applied to the summary.
func (c *Conn) onFetch(data *imapx.FetchData) {
	mailbox, pending := c.currentMailbox()
	if mailbox == "" {
		return
	}

	c.extMu.Lock()
	observers := make([]func(string, *imapx.FetchData) bool, 0, len(c.fetchObservers))
	for _, fn := range c.fetchObservers {
		observers = append(observers, fn)
	}
	c.extMu.Unlock()
	for _, fn := range observers {
		if fn(mailbox, data) {
			return
		}
	}
	_ = pending // flag updates during a QRESYNC select apply like any other

	if !data.Attrs.Has(imapx.FetchAttrFlags) {
		return
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	uid := data.UID
	if uid == 0 {
		uid = summary.UIDAt(data.SeqNum)
	}
	if uid == 0 {
		return
	}
	info, ok := summary.Get(uid)
	if !ok {
		return
	}
	if c.applyServerFlags(info, imapx.NewFlagSet(data.Flags...)) {
		if data.Attrs.Has(imapx.FetchAttrModSeq) {
			info.ModSeq = data.ModSeq
		}
		summary.Update(info)
		c.recordChange(func(ci *imapx.ChangeInfo) {
			ci.Changed = append(ci.Changed, uid)
		})
	}
}

// applyServerFlags folds a server-announced flag set into the message
// info, preserving local changes that have not been pushed yet. Reports
// whether anything changed.
func (c *Conn) applyServerFlags(info *imapx.MessageInfo, server imapx.FlagSet) bool {
	localAdded := info.Flags.Diff(info.ServerFlags)
	localRemoved := info.ServerFlags.Diff(info.Flags)

	merged := imapx.NewFlagSet(server.Slice()...)
	for _, f := range localAdded {
		merged.Add(f)
	}
	for _, f := range localRemoved {
		merged.Remove(f)
	}

	changed := len(merged.Diff(info.Flags)) > 0 || len(info.Flags.Diff(merged)) > 0 ||
		len(server.Diff(info.ServerFlags)) > 0 || len(info.ServerFlags.Diff(server)) > 0
	info.ServerFlags = server
	info.Flags = merged
	return changed
}

// onList forwards a LIST or LSUB row to the store summary.
func (c *Conn) onList(info *imapx.MailboxInfo, subscribed bool) {
	if c.opts.Store == nil {
		return
	}
	info.Subscribed = subscribed
	if subscribed {
		c.opts.Store.SetSubscribed(info.Name, true)
		return
	}
	c.opts.Store.AddMailbox(info)
}

// onStatusData merges STATUS counters into the named mailbox's summary,
// never overwriting known counters with zero values.
func (c *Conn) onStatusData(mailbox string, counts imapx.MailboxCounts) {
	summary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	cur := summary.Counts()
	cur.Messages = counts.Messages
	cur.Unseen = counts.Unseen
	cur.Recent = counts.Recent
	if counts.UIDNext != 0 {
		cur.UIDNext = counts.UIDNext
	}
	if counts.UIDValidity != 0 {
		cur.UIDValidity = counts.UIDValidity
	}
	if counts.HighestModSeq != 0 {
		cur.HighestModSeq = counts.HighestModSeq
	}
	summary.SetCounts(cur)
}

// readQuotaRoot parses "mailbox *(SP root)" and records the mapping so a
// following QUOTA response can be attributed to the mailbox.
func (c *Conn) readQuotaRoot() error {
	dec := c.dec
	if !dec.ExpectSP() {
		return dec.Err()
	}
	var mailbox string
	if !dec.Expect(dec.Quoted(&mailbox) || dec.Atom(&mailbox) || dec.String(&mailbox), "mailbox") {
		return dec.Err()
	}
	c.extMu.Lock()
	for dec.SP() {
		var root string
		if !dec.Expect(dec.Quoted(&root) || dec.Atom(&root) || dec.String(&root), "quota root") {
			c.extMu.Unlock()
			return dec.Err()
		}
		c.quotaRoots[root] = append(c.quotaRoots[root], mailbox)
	}
	c.extMu.Unlock()
	return nil
}

// onQuota forwards quota usage to every mailbox mapped to the root.
func (c *Conn) onQuota(root string, quotas []imapx.QuotaInfo) {
	if c.opts.Store == nil {
		return
	}
	c.extMu.Lock()
	mailboxes := append([]string(nil), c.quotaRoots[root]...)
	c.extMu.Unlock()
	if len(mailboxes) == 0 {
		// Quota for an unmapped root still gets stored under the root name.
		mailboxes = []string{root}
	}
	for _, mailbox := range mailboxes {
		c.opts.Store.SetQuota(mailbox, quotas)
	}
}

// takeSearchResults drains the accumulated SEARCH result UIDs.
func (c *Conn) takeSearchResults() []imapx.UID {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()
	uids := c.searchResults
	c.searchResults = nil
	return uids
}
