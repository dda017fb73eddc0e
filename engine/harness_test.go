package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapx"
)

// fakeServer speaks just enough IMAP for the engine under test: it greets,
// reads tagged command lines and answers them through the test's handler.
// Each dial gets its own pipe and serve goroutine, so pool tests can open
// several connections against one server.
type fakeServer struct {
	t        *testing.T
	greeting string
	// handle returns the raw response lines for one command (without CRLF;
	// embedded CRLFs for literals are allowed). nil means stay silent.
	handle func(tag, cmd string) []string

	mu       sync.Mutex
	commands []string
	dials    int
	failDial func(n int) error
	conns    []net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:        t,
		greeting: "* OK [CAPABILITY IMAP4rev1] ready",
	}
}

func okDone(tag string) []string { return []string{tag + " OK done"} }

func selectOK(tag string, exists int) []string {
	return []string{
		fmt.Sprintf("* %d EXISTS", exists),
		"* 0 RECENT",
		"* OK [UIDVALIDITY 1] valid",
		tag + " OK [READ-WRITE] selected",
	}
}

func (s *fakeServer) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	s.dials++
	n := s.dials
	fail := s.failDial
	s.mu.Unlock()
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	client, server := net.Pipe()
	s.mu.Lock()
	s.conns = append(s.conns, server)
	s.mu.Unlock()
	go s.serve(server)
	return client, nil
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s\r\n", s.greeting); err != nil {
		return
	}
	br := bufio.NewReader(conn)
	var idleTag string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "DONE" {
			if idleTag != "" {
				fmt.Fprintf(conn, "%s OK IDLE done\r\n", idleTag)
				idleTag = ""
			}
			continue
		}
		tag, cmd, _ := strings.Cut(line, " ")
		s.record(cmd)
		if cmd == "IDLE" {
			idleTag = tag
			fmt.Fprintf(conn, "+ idling\r\n")
			continue
		}
		var lines []string
		if s.handle != nil {
			lines = s.handle(tag, cmd)
		} else {
			lines = okDone(tag)
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(conn, "%s\r\n", l); err != nil {
				return
			}
		}
	}
}

func (s *fakeServer) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

func (s *fakeServer) gotCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// saw reports whether a received command starts with the prefix.
func (s *fakeServer) saw(prefix string) bool {
	for _, cmd := range s.gotCommands() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeServer) countPrefix(prefix string) int {
	n := 0
	for _, cmd := range s.gotCommands() {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeServer) close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// memSummary is an in-memory Summary collaborator.
type memSummary struct {
	mu     sync.Mutex
	rows   map[imapx.UID]*imapx.MessageInfo
	order  []imapx.UID
	counts imapx.MailboxCounts
	saves  int
	// changes records every flush delivered through Changed.
	changes []imapx.ChangeInfo
}

func newMemSummary() *memSummary {
	return &memSummary{rows: make(map[imapx.UID]*imapx.MessageInfo)}
}

func (m *memSummary) Get(uid imapx.UID) (*imapx.MessageInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.rows[uid]
	return info, ok
}

func (m *memSummary) UIDAt(seqNum uint32) imapx.UID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seqNum < 1 || int(seqNum) > len(m.order) {
		return 0
	}
	return m.order[seqNum-1]
}

func (m *memSummary) UIDs() []imapx.UID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]imapx.UID(nil), m.order...)
}

func (m *memSummary) Add(info *imapx.MessageInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[info.UID]; ok {
		m.rows[info.UID] = info
		return
	}
	m.rows[info.UID] = info
	m.order = append(m.order, info.UID)
	sort.Slice(m.order, func(i, k int) bool { return m.order[i] < m.order[k] })
}

func (m *memSummary) Update(info *imapx.MessageInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[info.UID] = info
}

func (m *memSummary) Remove(uid imapx.UID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[uid]; !ok {
		return
	}
	delete(m.rows, uid)
	for i, u := range m.order {
		if u == uid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *memSummary) Counts() imapx.MailboxCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

func (m *memSummary) SetCounts(counts imapx.MailboxCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = counts
}

func (m *memSummary) DeletedUIDs() []imapx.UID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var uids []imapx.UID
	for _, uid := range m.order {
		if m.rows[uid].Flags.Has(imapx.FlagDeleted) {
			uids = append(uids, uid)
		}
	}
	return uids
}

func (m *memSummary) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func (m *memSummary) Changed(info *imapx.ChangeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, *info)
}

func (m *memSummary) changeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.changes)
}

// memStore is an in-memory StoreSummary collaborator.
type memStore struct {
	mu         sync.Mutex
	summaries  map[string]*memSummary
	mailboxes  map[string]*imapx.MailboxInfo
	subscribed map[string]bool
	quotas     map[string][]imapx.QuotaInfo
	denied     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		summaries:  make(map[string]*memSummary),
		mailboxes:  make(map[string]*imapx.MailboxInfo),
		subscribed: make(map[string]bool),
		quotas:     make(map[string][]imapx.QuotaInfo),
		denied:     make(map[string]bool),
	}
}

func (st *memStore) Summary(mailbox string) (imapx.Summary, error) {
	return st.summary(mailbox), nil
}

func (st *memStore) summary(mailbox string) *memSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	m, ok := st.summaries[mailbox]
	if !ok {
		m = newMemSummary()
		st.summaries[mailbox] = m
	}
	return m
}

func (st *memStore) AddMailbox(info *imapx.MailboxInfo) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.mailboxes[info.Name] = info
}

func (st *memStore) RemoveMailbox(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.mailboxes, name)
}

func (st *memStore) RenameMailbox(oldName, newName string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if info, ok := st.mailboxes[oldName]; ok {
		delete(st.mailboxes, oldName)
		info.Name = newName
		st.mailboxes[newName] = info
	}
}

func (st *memStore) SetSubscribed(name string, subscribed bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subscribed[name] = subscribed
}

func (st *memStore) SetQuota(mailbox string, quota []imapx.QuotaInfo) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.quotas[mailbox] = quota
}

func (st *memStore) SetPermissionDenied(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.denied[name] = true
}

// memWriteSeeker is an in-memory io.WriteSeeker message destination.
type memWriteSeeker struct {
	mu  sync.Mutex
	buf []byte
	pos int64
}

func (w *memWriteSeeker) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	end := w.pos + int64(len(p))
	if int64(len(w.buf)) < end {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch whence {
	case io.SeekStart:
		w.pos = offset
	case io.SeekCurrent:
		w.pos += offset
	case io.SeekEnd:
		w.pos = int64(len(w.buf)) + offset
	}
	return w.pos, nil
}

func (w *memWriteSeeker) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthenticate(ctx context.Context, c *Conn) error {
	return c.Login("user", "pass")
}

func newTestConn(t *testing.T, srv *fakeServer, settings imapx.Settings, store *memStore) *Conn {
	t.Helper()
	c := NewConn(ConnOptions{
		Dial:         srv.dial,
		Settings:     settings,
		Store:        store,
		Authenticate: testAuthenticate,
		Logger:       testLogger(),
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		c.Shutdown(nil)
		srv.close()
	})
	return c
}
