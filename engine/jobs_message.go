package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/imapwire"
)

// fetchChunkSize is the partial-fetch window for large messages. Messages
// above this size are fetched in offset-chunked BODY.PEEK[] commands so a
// slow fetch never monopolizes the connection for minutes.
const fetchChunkSize = 512 * 1024

// GetMessageData is the get-message job payload.
type GetMessageData struct {
	UID imapx.UID
	// Dest receives the message bytes at the offsets the server reports.
	Dest io.WriteSeeker
	// Size is the summary's RFC822.SIZE, zero when unknown.
	Size uint32
	// FetchOffset is the next byte offset to request in multi-fetch mode.
	FetchOffset   int64
	UseMultiFetch bool

	lastChunk int64
}

// GetMessage fetches one message body into dest. Identical in-flight
// requests should be joined through the pool rather than submitted twice.
func (c *Conn) GetMessage(ctx context.Context, mailbox string, uid imapx.UID, dest io.WriteSeeker) (*Job, error) {
	j := newJob(ctx, JobGetMessage, PriorityGetMessage, mailbox)
	j.uid = uid
	data := &GetMessageData{UID: uid, Dest: dest}
	j.SetData(data, func() { c.clearBodySink(uid) })
	j.start = func(j *Job) error {
		if summary, err := c.summary(mailbox); err == nil {
			if info, ok := summary.Get(uid); ok {
				data.Size = info.Size
			}
		}
		data.UseMultiFetch = int64(data.Size) > fetchChunkSize
		c.setBodySink(uid, func(offset, size int64, r io.Reader) error {
			return writeBodyChunk(data, offset, r)
		})
		c.issueFetchChunk(j, data)
		return nil
	}
	return j, c.Submit(j)
}

// writeBodyChunk streams one BODY[] literal into the destination at the
// server-reported origin, falling back to the job's own cursor when the
// server omits it.
func writeBodyChunk(data *GetMessageData, offset int64, r io.Reader) error {
	pos := offset
	if pos < 0 {
		pos = data.FetchOffset
	}
	if _, err := data.Dest.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(data.Dest, r)
	data.lastChunk = n
	if end := pos + n; end > data.FetchOffset {
		data.FetchOffset = end
	}
	return err
}

func (c *Conn) issueFetchChunk(j *Job, data *GetMessageData) {
	var cmd *Command
	if data.UseMultiFetch {
		cmd = c.newCommand("FETCH", j.mailbox, j.priority,
			"UID FETCH %u (BODY.PEEK[]<%lu.%lu>)", data.UID, uint64(data.FetchOffset), uint64(fetchChunkSize))
	} else {
		cmd = c.newCommand("FETCH", j.mailbox, j.priority, "UID FETCH %u (BODY.PEEK[])", data.UID)
	}
	c.enqueueJobCommand(j, cmd, func(*Command) error {
		// A completely full chunk may hide more bytes, even past the
		// declared size; some servers under-report RFC822.SIZE.
		if data.UseMultiFetch && data.lastChunk == fetchChunkSize {
			data.lastChunk = 0
			c.issueFetchChunk(j, data)
		}
		return nil
	})
}

// AppendMessageData is the append-message job payload. UID and
// UIDValidity are filled from the APPENDUID response code on success.
type AppendMessageData struct {
	Path  string
	Flags []imapx.Flag
	Date  time.Time

	UID         imapx.UID
	UIDValidity uint32
}

// AppendMessage uploads the spool file at path into the mailbox. On an
// APPENDUID response the message is promoted into the local summary under
// its real UID.
func (c *Conn) AppendMessage(ctx context.Context, mailbox, path string, flags []imapx.Flag, date time.Time) (*Job, error) {
	j := newJob(ctx, JobAppendMessage, PriorityAppend, mailbox)
	data := &AppendMessageData{Path: path, Flags: flags, Date: date}
	j.SetData(data, nil)
	j.start = func(j *Job) error {
		// APPEND needs no selected mailbox, so the command carries no
		// affinity and can run while another mailbox stays open.
		cmd := c.newCommand("APPEND", "", j.priority, "APPEND %f %F ", mailbox, flags)
		if !data.Date.IsZero() {
			cmd.Addf("\"%t\" ", data.Date.Format(imapwire.DateTimeLayout))
		}
		cmd.Addf("%P", path)
		c.enqueueJobCommand(j, cmd, func(cmd *Command) error {
			status := cmd.Status()
			if status == nil || status.AppendUID == nil {
				return nil
			}
			data.UID = status.AppendUID.UID
			data.UIDValidity = status.AppendUID.UIDValidity
			summary, err := c.summary(mailbox)
			if err != nil {
				return nil
			}
			info := &imapx.MessageInfo{
				UID:         data.UID,
				Flags:       imapx.NewFlagSet(data.Flags...),
				ServerFlags: imapx.NewFlagSet(data.Flags...),
				Date:        data.Date,
			}
			if fi, err := os.Stat(data.Path); err == nil {
				info.Size = uint32(fi.Size())
			}
			summary.Add(info)
			c.recordChange(func(ci *imapx.ChangeInfo) {
				ci.Added = append(ci.Added, data.UID)
			})
			c.saveSummary(mailbox)
			return nil
		})
		return nil
	}
	return j, c.Submit(j)
}

// CopyMessagesData is the copy/move job payload.
type CopyMessagesData struct {
	Destination     string
	UIDs            []imapx.UID
	DeleteOriginals bool
}

// CopyMessages copies (or moves, when deleteOriginals is set) the given
// messages to the destination mailbox, batched into as many round-trips
// as the UID-set batch limit requires. With the MOVE capability a move is one
// command per batch; without it, COPY is followed by flagging the sources
// deleted.
func (c *Conn) CopyMessages(ctx context.Context, mailbox, destination string, uids []imapx.UID, deleteOriginals bool) (*Job, error) {
	useMove := deleteOriginals && c.Caps().Has(imapx.CapMove)
	kind := JobCopyMessages
	if useMove {
		kind = JobMoveMessages
	}
	j := newJob(ctx, kind, PriorityCopy, mailbox)
	sorted := append([]imapx.UID(nil), uids...)
	sort.Slice(sorted, func(i, k int) bool { return sorted[i] < sorted[k] })
	data := &CopyMessagesData{Destination: destination, UIDs: sorted, DeleteOriginals: deleteOriginals}
	j.SetData(data, nil)

	j.start = func(j *Job) error {
		b := imapx.UIDSetBatcher{UIDLimit: c.opts.Settings.BatchFetchCount()}
		var frags []string
		for _, uid := range sorted {
			if frag, full := b.Add(uid); full {
				frags = append(frags, frag)
			}
		}
		if frag := b.Flush(); frag != "" {
			frags = append(frags, frag)
		}
		if len(frags) == 0 {
			return fmt.Errorf("imapx: no messages to copy")
		}

		name := "COPY"
		if useMove {
			name = "MOVE"
		}
		remaining := len(frags)
		for _, frag := range frags {
			frag := frag
			cmd := c.newCommand(name, mailbox, j.priority, "UID %t %t %f", name, frag, destination)
			c.enqueueJobCommand(j, cmd, func(cmd *Command) error {
				c.cloneCopied(mailbox, destination, cmd.Status())
				if deleteOriginals && !useMove {
					c.flagCopiedDeleted(j, mailbox, frag)
				}
				remaining--
				if remaining == 0 {
					c.saveSummary(mailbox)
					c.saveSummary(destination)
				}
				return nil
			})
		}
		return nil
	}
	return j, c.Submit(j)
}

// cloneCopied mirrors a COPYUID response into the destination summary:
// each source row is cloned under its new UID so the destination does not
// need a refresh to know the message.
func (c *Conn) cloneCopied(mailbox, destination string, status *imapx.StatusResponse) {
	if status == nil || status.CopyUID == nil {
		return
	}
	srcSummary, err := c.summary(mailbox)
	if err != nil {
		return
	}
	dstSummary, err := c.summary(destination)
	if err != nil {
		return
	}
	srcUIDs := status.CopyUID.SourceUIDs.Nums()
	dstUIDs := status.CopyUID.DestUIDs.Nums()
	if len(srcUIDs) != len(dstUIDs) {
		c.logger.Warn("copyuid set size mismatch",
			"mailbox", mailbox, "src", len(srcUIDs), "dst", len(dstUIDs))
		return
	}
	for i, src := range srcUIDs {
		info, ok := srcSummary.Get(src)
		if !ok {
			continue
		}
		clone := *info
		clone.UID = dstUIDs[i]
		clone.Flags = imapx.NewFlagSet(info.Flags.Slice()...)
		clone.ServerFlags = imapx.NewFlagSet(info.ServerFlags.Slice()...)
		dstSummary.Add(&clone)
	}
}

// flagCopiedDeleted marks the copied source messages deleted, locally and
// as the acknowledged server state, for servers without MOVE.
func (c *Conn) flagCopiedDeleted(j *Job, mailbox, frag string) {
	cmd := c.newCommand("STORE", mailbox, j.priority,
		"UID STORE %t +FLAGS.SILENT (%t)", frag, string(imapx.FlagToWire(imapx.FlagDeleted)))
	c.enqueueJobCommand(j, cmd, func(*Command) error {
		summary, err := c.summary(mailbox)
		if err != nil {
			return nil
		}
		set, err := imapx.ParseUIDSet(frag)
		if err != nil {
			return nil
		}
		for _, uid := range set.Nums() {
			info, ok := summary.Get(uid)
			if !ok {
				continue
			}
			info.Flags.Add(imapx.FlagDeleted)
			if info.ServerFlags == nil {
				info.ServerFlags = imapx.NewFlagSet()
			}
			info.ServerFlags.Add(imapx.FlagDeleted)
			summary.Update(info)
		}
		c.saveSummary(mailbox)
		return nil
	})
}
