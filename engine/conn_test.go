package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapx"
)

func TestSchedulerMailboxAffinity(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 0)
		}
		return okDone(tag)
	}
	store := newMemStore()
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	ctx := context.Background()
	j1, err := c.Noop(ctx, "INBOX")
	require.NoError(t, err)
	j2, err := c.Noop(ctx, "Archive")
	require.NoError(t, err)
	require.NoError(t, j1.Wait())
	require.NoError(t, j2.Wait())

	// A command for Archive must never go out while INBOX is selected and
	// INBOX work is queued or active: the wire order is select, work,
	// select, work.
	var got []string
	for _, cmd := range srv.gotCommands() {
		if strings.HasPrefix(cmd, "SELECT") || cmd == "NOOP" {
			got = append(got, cmd)
		}
	}
	assert.Equal(t, []string{"SELECT INBOX", "NOOP", "SELECT Archive", "NOOP"}, got)
}

func TestSyncChangesIdempotent(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 2)
		}
		return okDone(tag)
	}
	store := newMemStore()
	summary := store.summary("INBOX")
	summary.Add(&imapx.MessageInfo{
		UID:         1,
		Flags:       imapx.NewFlagSet(imapx.FlagSeen),
		ServerFlags: imapx.NewFlagSet(),
	})
	summary.Add(&imapx.MessageInfo{
		UID:         2,
		Flags:       imapx.NewFlagSet(),
		ServerFlags: imapx.NewFlagSet(),
	})
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	ctx := context.Background()
	j, err := c.SyncChanges(ctx, "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	require.Equal(t, 1, srv.countPrefix("UID STORE"))
	assert.True(t, srv.saw("UID STORE 1 +FLAGS.SILENT (\\Seen)"))

	info, ok := summary.Get(1)
	require.True(t, ok)
	assert.True(t, info.ServerFlags.Has(imapx.FlagSeen))

	// Nothing changed since: the second sync must issue zero STOREs and
	// still complete.
	j, err = c.SyncChanges(ctx, "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())
	assert.Equal(t, 1, srv.countPrefix("UID STORE"))
}

func TestUnsolicitedFetchFlags(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, "SELECT"):
			return selectOK(tag, 1)
		case cmd == "NOOP":
			return []string{
				`* 1 FETCH (UID 7 FLAGS (\Seen))`,
				tag + " OK done",
			}
		}
		return okDone(tag)
	}
	store := newMemStore()
	summary := store.summary("INBOX")
	summary.Add(&imapx.MessageInfo{
		UID:         7,
		Flags:       imapx.NewFlagSet(),
		ServerFlags: imapx.NewFlagSet(),
	})
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	j, err := c.Noop(context.Background(), "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	info, ok := summary.Get(7)
	require.True(t, ok)
	assert.True(t, info.Flags.Has(imapx.FlagSeen))
	assert.True(t, info.ServerFlags.Has(imapx.FlagSeen))

	// The update is flushed exactly once, at the tagged completion.
	require.Equal(t, 1, summary.changeCount())
	assert.Equal(t, []imapx.UID{7}, summary.changes[0].Changed)
}

func TestUnsolicitedFetchPreservesLocalFlags(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, "SELECT"):
			return selectOK(tag, 1)
		case cmd == "NOOP":
			return []string{
				`* 1 FETCH (UID 7 FLAGS (\Answered))`,
				tag + " OK done",
			}
		}
		return okDone(tag)
	}
	store := newMemStore()
	summary := store.summary("INBOX")
	// \Seen was set locally and not pushed yet; the server's flag
	// announcement must not erase it.
	summary.Add(&imapx.MessageInfo{
		UID:         7,
		Flags:       imapx.NewFlagSet(imapx.FlagSeen),
		ServerFlags: imapx.NewFlagSet(),
	})
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	j, err := c.Noop(context.Background(), "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	info, ok := summary.Get(7)
	require.True(t, ok)
	assert.True(t, info.Flags.Has(imapx.FlagSeen), "local unsynced flag lost")
	assert.True(t, info.Flags.Has(imapx.FlagAnswered))
	assert.True(t, info.ServerFlags.Has(imapx.FlagAnswered))
	assert.False(t, info.ServerFlags.Has(imapx.FlagSeen))
}

func TestIdleLifecycle(t *testing.T) {
	srv := newFakeServer(t)
	srv.greeting = "* OK [CAPABILITY IMAP4rev1 IDLE] ready"
	store := newMemStore()
	c := newTestConn(t, srv, &imapx.SettingsDefaults{Idle: true}, store)

	// With nothing to do the connection enters IDLE after the dwell.
	waitFor(t, "IDLE to be issued", func() bool { return srv.saw("IDLE") })

	// New work stops the IDLE (DONE, tagged OK) before being transmitted.
	j, err := c.Noop(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	var idleAt, noopAt int
	for i, cmd := range srv.gotCommands() {
		switch cmd {
		case "IDLE":
			idleAt = i
		case "NOOP":
			noopAt = i
		}
	}
	assert.Greater(t, noopAt, idleAt, "NOOP transmitted before IDLE ended")
}

func TestExpungeRemovesDeleted(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, "SELECT"):
			return selectOK(tag, 1)
		case cmd == "EXPUNGE":
			return []string{"* 1 EXPUNGE", tag + " OK expunged"}
		}
		return okDone(tag)
	}
	store := newMemStore()
	summary := store.summary("INBOX")
	summary.Add(&imapx.MessageInfo{
		UID:         3,
		Flags:       imapx.NewFlagSet(imapx.FlagDeleted),
		ServerFlags: imapx.NewFlagSet(),
	})
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	j, err := c.Expunge(context.Background(), "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	// The deletion was pushed before the expunge.
	assert.True(t, srv.saw("UID STORE 3 +FLAGS.SILENT (\\Deleted)"))
	_, ok := summary.Get(3)
	assert.False(t, ok, "expunged message still in summary")
}

func TestSelectPermissionDenied(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT Secret") {
			return []string{tag + " NO [NOPERM] access denied"}
		}
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 0)
		}
		return okDone(tag)
	}
	store := newMemStore()
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	j, err := c.Noop(context.Background(), "Secret")
	require.NoError(t, err)
	err = j.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not selectable")

	store.mu.Lock()
	denied := store.denied["Secret"]
	store.mu.Unlock()
	assert.True(t, denied, "permission failure not recorded")

	// The connection survives and serves other mailboxes.
	j, err = c.Noop(context.Background(), "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())
}

func TestZeroCommandJobCompletes(t *testing.T) {
	srv := newFakeServer(t)
	store := newMemStore()
	c := newTestConn(t, srv, &imapx.SettingsDefaults{}, store)

	// An already-clean mailbox yields an empty sync plan: the job must
	// still complete rather than hang.
	j, err := c.SyncChanges(context.Background(), "INBOX")
	require.NoError(t, err)
	require.NoError(t, j.Wait())
	assert.Equal(t, 0, srv.countPrefix("UID STORE"))
}
