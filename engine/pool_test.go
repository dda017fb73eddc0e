package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapx"
)

func newTestPool(t *testing.T, srv *fakeServer, settings imapx.Settings, store *memStore) *Pool {
	t.Helper()
	p := NewPool(PoolOptions{
		Dial:         srv.dial,
		Settings:     settings,
		Store:        store,
		Authenticate: testAuthenticate,
		Logger:       testLogger(),
	})
	t.Cleanup(func() {
		p.Shutdown(nil)
		srv.close()
	})
	return p
}

func TestPoolAffinityAndLoadRouting(t *testing.T) {
	srv := newFakeServer(t)
	release := make(chan struct{})
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 0)
		}
		if cmd == "NOOP" {
			<-release
		}
		return okDone(tag)
	}
	p := newTestPool(t, srv, &imapx.SettingsDefaults{Connections: 2}, newMemStore())

	ctx := context.Background()
	j, err := p.Noop(ctx, "INBOX")
	require.NoError(t, err)
	require.Len(t, p.Conns(), 1)
	a := p.Conns()[0]

	// The only connection is busy with INBOX and there is headroom, so a
	// job for another mailbox gets a fresh connection.
	b, err := p.ConnForMailbox(ctx, "Archive", false)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Len(t, p.Conns(), 2)

	// Affinity beats load: more INBOX work goes to the busy connection,
	// not the idle one.
	c, err := p.ConnForMailbox(ctx, "INBOX", false)
	require.NoError(t, err)
	require.Same(t, a, c)

	close(release)
	require.NoError(t, j.Wait())
}

func TestPoolCeilingBackoff(t *testing.T) {
	srv := newFakeServer(t)
	release := make(chan struct{})
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 0)
		}
		if cmd == "NOOP" {
			<-release
		}
		return okDone(tag)
	}
	// The server accepts exactly one session.
	srv.failDial = func(n int) error {
		if n >= 2 {
			return errors.New("too many simultaneous connections")
		}
		return nil
	}
	p := newTestPool(t, srv, &imapx.SettingsDefaults{Connections: 3}, newMemStore())

	ctx := context.Background()
	j, err := p.Noop(ctx, "INBOX")
	require.NoError(t, err)
	require.Len(t, p.Conns(), 1)
	a := p.Conns()[0]

	// The dial for a second connection fails while the first is healthy:
	// the request must fall back to the open connection, not fail.
	b, err := p.ConnForMailbox(ctx, "Archive", false)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 2, srv.dialCount())

	// The ceiling dropped to the open count, so later requests do not
	// keep retrying the doomed dial.
	c, err := p.ConnForMailbox(ctx, "Drafts", false)
	require.NoError(t, err)
	require.Same(t, a, c)
	assert.Equal(t, 2, srv.dialCount())

	close(release)
	require.NoError(t, j.Wait())
}

func TestPoolGetMessageDedup(t *testing.T) {
	srv := newFakeServer(t)
	gate := make(chan struct{})
	srv.handle = func(tag, cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, "SELECT"):
			return selectOK(tag, 1)
		case strings.HasPrefix(cmd, "UID FETCH"):
			<-gate
			return []string{
				"* 1 FETCH (UID 5 BODY[] {3}\r\nabc)",
				tag + " OK done",
			}
		}
		return okDone(tag)
	}
	store := newMemStore()
	store.summary("INBOX").Add(&imapx.MessageInfo{
		UID:         5,
		Size:        3,
		Flags:       imapx.NewFlagSet(),
		ServerFlags: imapx.NewFlagSet(),
	})
	p := newTestPool(t, srv, &imapx.SettingsDefaults{}, store)

	ctx := context.Background()
	dest := &memWriteSeeker{}
	j1, err := p.GetMessage(ctx, "INBOX", 5, dest)
	require.NoError(t, err)

	// A second request for the same message joins the in-flight job; its
	// own destination is never used.
	j2, err := p.GetMessage(ctx, "INBOX", 5, &memWriteSeeker{})
	require.NoError(t, err)
	require.Same(t, j1, j2)

	close(gate)
	require.NoError(t, j1.Wait())
	require.NoError(t, j2.Wait())

	assert.Equal(t, "abc", string(dest.bytes()))
	assert.Equal(t, 1, srv.countPrefix("UID FETCH"))
}

func TestPoolReconnectTearsDownAll(t *testing.T) {
	srv := newFakeServer(t)
	release := make(chan struct{})
	srv.handle = func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return selectOK(tag, 0)
		}
		if cmd == "NOOP" {
			<-release
		}
		return okDone(tag)
	}
	p := newTestPool(t, srv, &imapx.SettingsDefaults{Connections: 2}, newMemStore())

	ctx := context.Background()
	j, err := p.Noop(ctx, "INBOX")
	require.NoError(t, err)
	a := p.Conns()[0]
	_, err = p.ConnForMailbox(ctx, "Archive", false)
	require.NoError(t, err)
	require.Len(t, p.Conns(), 2)

	// A transport-level drop on one connection empties the whole pool;
	// every connection of the account likely shares the broken path.
	close(release)
	a.Shutdown(imapx.ErrTryReconnect)
	waitFor(t, "pool to drain", func() bool { return len(p.Conns()) == 0 })
	j.Wait()
}
