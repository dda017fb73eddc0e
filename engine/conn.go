package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/emersion/go-imapx"
	"github.com/emersion/go-imapx/internal/imapwire"
)

// inactivityTimeout keeps a conservative margin under common server
// autologout timers (RFC 2177 suggests restarting IDLE at least every 29
// minutes).
const inactivityTimeout = 29 * time.Minute

// ConnOptions configures one connection.
type ConnOptions struct {
	// Dial hands over an established duplex stream. Required.
	Dial imapx.DialFunc
	// Settings is the account's read-only configuration. Required.
	Settings imapx.Settings
	// Store maps mailbox names to folder summaries. Required for mailbox
	// operations.
	Store imapx.StoreSummary
	// Authenticate runs the authentication exchange once the connection has
	// read the greeting. It typically calls Conn.Login or
	// Conn.AuthenticateSASL. Optional if the server pre-authenticates.
	Authenticate func(ctx context.Context, c *Conn) error

	// TagPrefix is the connection's tag letter, 'A'-'Y'. Defaults to 'A'.
	TagPrefix byte
	// Logger receives structured connection events. Defaults to slog's
	// default logger.
	Logger *slog.Logger
	// DebugWriter receives raw ingress and egress bytes, if any.
	DebugWriter io.Writer

	// OnAlert receives deduplicated ALERT texts.
	OnAlert func(text string)
	// OnShutdown fires once when the connection dies.
	OnShutdown func(c *Conn, err error)
	// OnNewMessages fires when EXISTS growth is observed while idling.
	OnNewMessages func(mailbox string)
}

// Conn is one physical IMAP connection and its state machine.
type Conn struct {
	opts   ConnOptions
	logger *slog.Logger

	transport io.ReadWriteCloser
	br        *bufio.Reader
	bw        *bufio.Writer
	dec       *imapwire.Decoder
	// writeMu serializes all writes to bw. It is held for the whole
	// transmission of a command, including waits for literal continuations,
	// which is what makes the literal writer slot exclusive.
	writeMu sync.Mutex

	stateMu sync.Mutex
	state   ConnState
	caps    imapx.CapSet

	// queueMu guards the three command collections, the literal slot, the
	// tag counter and the scheduler's bookkeeping.
	queueMu    sync.Mutex
	queue      []*Command // not yet sent, sorted by priority then FIFO
	active     []*Command // sent, awaiting tagged response
	literal    *Command   // the at-most-one command owning the write channel
	contReq    *imapwire.ContinuationRequest
	tagCounter uint64
	sendCh     chan *Command

	// selectMu guards the selected/selecting/closing mailbox triple and the
	// in-flight selection's accumulated data.
	selectMu   sync.Mutex
	selected   string
	selecting  string
	closing    string
	selectData *pendingSelect

	jobsMu sync.Mutex
	jobs   []*Job
	jobSeq uint64

	// change accumulates folder changes between safe points.
	changeMu sync.Mutex
	change   imapx.ChangeInfo

	searchMu      sync.Mutex
	searchResults []imapx.UID

	// extMu guards extension state and the fetch routing registries.
	extMu          sync.Mutex
	namespace      *imapwire.NamespaceData
	qresyncEnabled bool
	quotaRoots     map[string][]string // quota root -> mailboxes
	fetchObservers map[uint64]func(mailbox string, data *imapx.FetchData) bool
	bodySinks      map[imapx.UID]imapwire.FetchBodySink

	alertsMu    sync.Mutex
	knownAlerts map[string]struct{}

	idle idleState

	inactivity *time.Timer

	shutdownOnce sync.Once
	shutdownErr  error
	shutdownCh   chan struct{}
}

// NewConn creates a connection in the DISCONNECTED state. Connect must be
// called before jobs can be submitted.
func NewConn(opts ConnOptions) *Conn {
	if opts.TagPrefix < 'A' || opts.TagPrefix > 'Y' {
		opts.TagPrefix = 'A'
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		opts:           opts,
		logger:         logger.With("conn", string(opts.TagPrefix)),
		state:          StateDisconnected,
		caps:           imapx.NewCapSet(),
		sendCh:         make(chan *Command, MaxActiveCommands+1),
		knownAlerts:    make(map[string]struct{}),
		quotaRoots:     make(map[string][]string),
		fetchObservers: make(map[uint64]func(mailbox string, data *imapx.FetchData) bool),
		bodySinks:      make(map[imapx.UID]imapwire.FetchBodySink),
		shutdownCh:     make(chan struct{}),
	}
	c.idle.conn = c
	return c
}

// State returns the connection's lifecycle state.
func (c *Conn) State() ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Caps returns the server's advertised capability set.
func (c *Conn) Caps() imapx.CapSet {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.caps
}

func (c *Conn) setCaps(caps imapx.CapSet) {
	c.stateMu.Lock()
	c.caps = caps
	c.stateMu.Unlock()
}

// TagPrefix returns the connection's tag letter.
func (c *Conn) TagPrefix() byte { return c.opts.TagPrefix }

func (c *Conn) nextTag() string {
	c.queueMu.Lock()
	c.tagCounter++
	n := c.tagCounter
	c.queueMu.Unlock()
	return fmt.Sprintf("%c%05d", c.opts.TagPrefix, n)
}

// Connect establishes the transport and drives the bring-up protocol:
// greeting, authentication, CAPABILITY, NAMESPACE, ENABLE QRESYNC and
// NOTIFY negotiation. On success the connection is INITIALISED.
func (c *Conn) Connect(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return fmt.Errorf("imapx: connection already connected")
	}
	transport, err := c.opts.Dial(ctx)
	if err != nil {
		return err
	}

	rw := io.ReadWriter(transport)
	if c.opts.DebugWriter != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{
			Reader: io.TeeReader(transport, c.opts.DebugWriter),
			Writer: io.MultiWriter(transport, c.opts.DebugWriter),
		}
	}
	c.transport = transport
	c.br = bufio.NewReader(rw)
	c.bw = bufio.NewWriter(rw)
	c.dec = imapwire.NewDecoder(c.br)

	preauth, greetingCaps, err := c.readGreeting()
	if err != nil {
		transport.Close()
		c.setState(StateDisconnected)
		return err
	}
	if len(greetingCaps) > 0 {
		c.setCaps(greetingCaps)
	}
	if preauth {
		c.setState(StateAuthenticated)
	} else {
		c.setState(StateConnected)
	}

	c.inactivity = time.AfterFunc(inactivityTimeout, c.onInactive)
	go c.readLoop()
	go c.writeLoop()

	if err := c.bringUp(ctx, preauth); err != nil {
		c.Shutdown(err)
		return err
	}
	c.setState(StateInitialised)
	c.logger.Debug("connection initialised")
	c.startNext()
	return nil
}

// readGreeting reads the initial "* OK", "* PREAUTH" or "* BYE" line
// before the reader goroutine starts.
func (c *Conn) readGreeting() (preauth bool, caps imapx.CapSet, err error) {
	dec := c.dec
	if !dec.ExpectSpecial('*') || !dec.ExpectSP() {
		return false, nil, &imapx.ProtocolError{Context: "greeting", Err: dec.Err()}
	}
	var typ string
	if !dec.ExpectAtom(&typ) || !dec.ExpectSP() {
		return false, nil, &imapx.ProtocolError{Context: "greeting", Err: dec.Err()}
	}
	resp, err := imapwire.ReadStatusResponse(dec, imapx.StatusType(typ))
	if err != nil || !dec.ExpectCRLF() {
		if err == nil {
			err = dec.Err()
		}
		return false, nil, &imapx.ProtocolError{Context: "greeting", Err: err}
	}
	switch resp.Type {
	case imapx.StatusOK:
		return false, resp.Capabilities, nil
	case imapx.StatusPreauth:
		return true, resp.Capabilities, nil
	case imapx.StatusBye:
		return false, nil, fmt.Errorf("imapx: server refused connection: %v", resp.Text)
	default:
		return false, nil, &imapx.ProtocolError{Context: "greeting", Err: fmt.Errorf("unexpected greeting %v", resp.Type)}
	}
}

// bringUp performs authentication and extension negotiation. Any failure
// discards partial negotiation state.
func (c *Conn) bringUp(ctx context.Context, preauth bool) error {
	if !preauth {
		if c.opts.Authenticate == nil {
			return fmt.Errorf("imapx: server requires authentication but no authenticator configured")
		}
		if err := c.opts.Authenticate(ctx, c); err != nil {
			return err
		}
		c.setState(StateAuthenticated)
	}

	if len(c.Caps()) == 0 {
		if err := c.requestCapability(); err != nil {
			return err
		}
	}
	caps := c.Caps()

	if caps.Has(imapx.CapNamespace) {
		cmd := c.enqueueCommand(c.newCommand("NAMESPACE", "", PriorityMailboxMgmt, "NAMESPACE"))
		if err := cmd.wait(); err != nil {
			return err
		}
	}
	if c.opts.Settings.UseQResync() && caps.Has(imapx.CapQResync) {
		cmd := c.enqueueCommand(c.newCommand("ENABLE", "", PriorityMailboxMgmt, "ENABLE QRESYNC CONDSTORE"))
		if err := cmd.wait(); err != nil {
			return err
		}
	}
	if c.opts.Settings.UseNotify() && caps.Has(imapx.CapNotify) {
		cmd := c.enqueueCommand(c.newCommand("NOTIFY", "", PriorityMailboxMgmt,
			"NOTIFY SET (SELECTED (MessageNew (UID RFC822.SIZE RFC822.HEADER FLAGS) MessageExpunge FlagChange)) (PERSONAL (MessageNew MessageExpunge MailboxName SubscriptionChange))"))
		if err := cmd.wait(); err != nil {
			return err
		}
	}
	return nil
}

// requestCapability issues CAPABILITY and waits for the refreshed set.
func (c *Conn) requestCapability() error {
	cmd := c.enqueueCommand(c.newCommand("CAPABILITY", "", PriorityMailboxMgmt, "CAPABILITY"))
	return cmd.wait()
}

// Login executes a LOGIN command synchronously. Intended for use from the
// Authenticate callback.
func (c *Conn) Login(username, password string) error {
	cmd := c.enqueueCommand(c.newCommand("LOGIN", "", PriorityMailboxMgmt, "LOGIN %s %s", username, password))
	if err := cmd.wait(); err != nil {
		return err
	}
	if caps := cmd.Status().Capabilities; len(caps) > 0 {
		c.setCaps(caps)
	}
	return nil
}

// AuthenticateSASL runs an AUTHENTICATE exchange with the given SASL
// client. Intended for use from the Authenticate callback.
func (c *Conn) AuthenticateSASL(client sasl.Client) error {
	cmd := c.enqueueCommand(c.newCommand("AUTHENTICATE", "", PriorityMailboxMgmt, "AUTHENTICATE %A", client))
	if err := cmd.wait(); err != nil {
		return err
	}
	if caps := cmd.Status().Capabilities; len(caps) > 0 {
		c.setCaps(caps)
	}
	return nil
}

// enqueueCommand closes the command's part list and hands it to the
// scheduler.
func (c *Conn) enqueueCommand(cmd *Command) *Command {
	cmd.close()
	if cmd.err != nil {
		cmd.markComplete(nil, cmd.err)
		return cmd
	}
	metricCommands.WithLabelValues(cmd.name).Inc()
	c.queueMu.Lock()
	c.insertQueuedLocked(cmd)
	c.queueMu.Unlock()
	c.startNext()
	return cmd
}

// insertQueuedLocked keeps the queue sorted by priority, FIFO within equal
// priority.
func (c *Conn) insertQueuedLocked(cmd *Command) {
	i := len(c.queue)
	for i > 0 && c.queue[i-1].priority < cmd.priority {
		i--
	}
	c.queue = append(c.queue, nil)
	copy(c.queue[i+1:], c.queue[i:])
	c.queue[i] = cmd
}

// writeLoop transmits commands handed over by the scheduler. Running the
// writes on a dedicated goroutine keeps the reader free to consume the
// server's continuation prompts while a literal is pending.
func (c *Conn) writeLoop() {
	for {
		select {
		case cmd := <-c.sendCh:
			c.transmit(cmd)
		case <-c.shutdownCh:
			return
		}
	}
}

// transmit writes all of a command's parts, honouring the continuation
// protocol: LITERAL+ payloads are written immediately, synchronizing
// literals wait for the server's "+" prompt, and AUTH parts loop through
// the SASL challenge cycle until the server sends a tagged response.
func (c *Conn) transmit(cmd *Command) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.touch()

	fail := func(err error) {
		c.queueMu.Lock()
		c.removeActiveLocked(cmd)
		c.clearLiteralLocked(cmd)
		c.queueMu.Unlock()
		cmd.markComplete(nil, err)
		// A failed write leaves the stream in an unknown state: IMAP has no
		// mid-command resynchronization.
		c.Shutdown(err)
	}

	for i := 0; i < len(cmd.parts); i++ {
		part := &cmd.parts[i]
		switch {
		case part.Kind == imapwire.PartSimple:
			if _, err := c.bw.Write(part.Text); err != nil {
				fail(classifyTransportErr(err))
				return
			}
		case part.Kind == imapwire.PartAuth:
			if err := c.transmitAuth(cmd, part); err != nil {
				fail(err)
				return
			}
		default:
			// Literal payload: the "{n}" header is already in the preceding
			// simple part.
			if err := c.endLine(); err != nil {
				fail(classifyTransportErr(err))
				return
			}
			if continuationBearing(part) {
				if err := c.awaitContinuation(cmd); err != nil {
					// Tagged NO/BAD instead of "+": the command is already
					// complete, nothing more to write.
					return
				}
			}
			if err := part.WritePayload(c.bw); err != nil {
				fail(classifyTransportErr(err))
				return
			}
		}
	}

	if err := c.endLine(); err != nil {
		fail(classifyTransportErr(err))
		return
	}
	c.queueMu.Lock()
	c.clearLiteralLocked(cmd)
	c.queueMu.Unlock()
	c.startNext()
}

// endLine writes CRLF and flushes.
func (c *Conn) endLine() error {
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

// awaitContinuation flushes the line written so far, takes the literal
// slot, and blocks until the server prompts with "+" or completes the
// command with a tagged response.
func (c *Conn) awaitContinuation(cmd *Command) error {
	cont := imapwire.NewContinuationRequest()
	c.queueMu.Lock()
	c.literal = cmd
	c.contReq = cont
	c.queueMu.Unlock()
	_, err := cont.Wait()
	return err
}

// transmitAuth drives the SASL challenge/response cycle: each "+" prompt
// carries a base64 challenge which is fed to the SASL client, and the loop
// ends when the tagged status line completes the command.
func (c *Conn) transmitAuth(cmd *Command, part *imapwire.Part) error {
	first := true
	for {
		if err := c.endLine(); err != nil {
			return classifyTransportErr(err)
		}
		cont := imapwire.NewContinuationRequest()
		c.queueMu.Lock()
		c.literal = cmd
		c.contReq = cont
		c.queueMu.Unlock()

		challengeStr, err := cont.Wait()
		if err != nil {
			// Tagged response arrived: the exchange is over.
			return nil
		}

		var resp []byte
		if first && challengeStr == "" && part.AuthIR != nil {
			resp = part.AuthIR
		} else {
			challenge, err := imapwire.DecodeSASL(challengeStr)
			if err != nil {
				return err
			}
			resp, err = part.Auth.Next(challenge)
			if err != nil {
				return err
			}
		}
		first = false
		if _, err := c.bw.WriteString(imapwire.EncodeSASL(resp)); err != nil {
			return classifyTransportErr(err)
		}
	}
}

func (c *Conn) removeActiveLocked(cmd *Command) {
	for i, a := range c.active {
		if a == cmd {
			c.active = append(c.active[:i], c.active[i+1:]...)
			metricActiveCommands.Dec()
			return
		}
	}
}

func (c *Conn) clearLiteralLocked(cmd *Command) {
	if c.literal == cmd {
		c.literal = nil
		c.contReq = nil
	}
}

// touch resets the inactivity timer.
func (c *Conn) touch() {
	if c.inactivity != nil {
		c.inactivity.Reset(inactivityTimeout)
	}
}

// onInactive fires after 29 minutes without traffic: restart IDLE if it is
// the idle owner, otherwise submit a keep-alive NOOP nobody waits for.
func (c *Conn) onInactive() {
	if c.State() == StateShutdown {
		return
	}
	if c.idle.restartIfIdling() {
		return
	}
	c.logger.Debug("inactivity keep-alive")
	c.enqueueCommand(c.newCommand("NOOP", "", PriorityNoop, "NOOP"))
}

// readLoop is the connection's dedicated reader: it parses one response
// unit per wake-up and dispatches it. Any parse or transport error is
// fatal to the connection.
func (c *Conn) readLoop() {
	for {
		if c.dec.EOF() {
			c.Shutdown(imapx.ErrTryReconnect)
			return
		}
		if err := c.readResponse(); err != nil {
			c.Shutdown(err)
			return
		}
	}
}

// readResponse consumes one complete response: a continuation prompt, an
// untagged response, or a tagged completion.
func (c *Conn) readResponse() error {
	dec := c.dec

	if dec.Special('+') {
		var text string
		dec.SP()
		dec.Text(&text)
		if !dec.ExpectCRLF() {
			return &imapx.ProtocolError{Context: "continue-req", Err: dec.Err()}
		}
		return c.handleContinuation(text)
	}

	var tag string
	if !dec.Expect(dec.Special('*') || dec.Atom(&tag), "'*' or tag") {
		return &imapx.ProtocolError{Context: "response", Err: dec.Err()}
	}
	if !dec.ExpectSP() {
		return &imapx.ProtocolError{Context: "response", Err: dec.Err()}
	}

	if tag != "" {
		return c.handleTagged(tag)
	}
	return c.handleUntagged()
}

// handleContinuation routes a "+" prompt to the command owning the literal
// slot.
func (c *Conn) handleContinuation(text string) error {
	c.queueMu.Lock()
	cont := c.contReq
	c.contReq = nil
	c.queueMu.Unlock()
	if cont == nil {
		if c.idle.onContinuation() {
			return nil
		}
		return &imapx.ProtocolError{Context: "continue-req", Err: fmt.Errorf("unmatched continuation request")}
	}
	cont.Done(text)
	return nil
}

// queuedWork reports whether any command is waiting to be transmitted.
func (c *Conn) queuedWork() bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue) > 0
}

// classifyTransportErr maps dropped-connection failures onto
// ErrTryReconnect so the pool tears down every connection of the account.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("%w: %v", imapx.ErrTryReconnect, err)
	}
	switch {
	case err == io.EOF, err == io.ErrUnexpectedEOF, err == io.ErrClosedPipe:
		return fmt.Errorf("%w: %v", imapx.ErrTryReconnect, err)
	case os.IsTimeout(err):
		return fmt.Errorf("%w: %v", imapx.ErrTryReconnect, err)
	}
	return err
}

// Shutdown moves the connection to its terminal state: every pending and
// active command is synthetically failed with err so owning jobs can clean
// up, and the shutdown notification fans out exactly once.
func (c *Conn) Shutdown(err error) {
	c.shutdownOnce.Do(func() {
		if err == nil {
			err = imapx.ErrShutdown
		}
		c.shutdownErr = err
		c.setState(StateShutdown)
		close(c.shutdownCh)
		if c.inactivity != nil {
			c.inactivity.Stop()
		}
		if c.transport != nil {
			c.transport.Close()
		}

		c.queueMu.Lock()
		failed := make([]*Command, 0, len(c.queue)+len(c.active)+1)
		failed = append(failed, c.queue...)
		failed = append(failed, c.active...)
		if c.literal != nil {
			failed = append(failed, c.literal)
			if c.contReq != nil {
				c.contReq.Cancel(err)
				c.contReq = nil
			}
		}
		metricActiveCommands.Sub(float64(len(c.active)))
		c.queue = nil
		c.active = nil
		c.literal = nil
		c.queueMu.Unlock()

		seen := make(map[*Command]struct{}, len(failed))
		for _, cmd := range failed {
			if _, ok := seen[cmd]; ok {
				continue
			}
			seen[cmd] = struct{}{}
			cmd.markComplete(nil, err)
		}

		c.jobsMu.Lock()
		jobs := c.jobs
		c.jobs = nil
		c.jobsMu.Unlock()
		for _, j := range jobs {
			j.SetError(err)
			j.finish()
		}

		c.logger.Debug("connection shut down", "err", err)
		if c.opts.OnShutdown != nil {
			c.opts.OnShutdown(c, err)
		}
	})
}

// ShutdownErr returns the error that terminated the connection.
func (c *Conn) ShutdownErr() error {
	select {
	case <-c.shutdownCh:
		return c.shutdownErr
	default:
		return nil
	}
}

// registerJob adds the job to the connection's job list. Submissions below
// the INITIALISED state fail fast.
func (c *Conn) registerJob(j *Job) error {
	switch c.State() {
	case StateInitialised, StateSelected:
	case StateShutdown:
		return imapx.ErrShutdown
	default:
		return imapx.ErrNotReady
	}
	c.jobsMu.Lock()
	c.jobSeq++
	j.id = c.jobSeq
	j.conn = c
	c.jobs = append(c.jobs, j)
	c.jobsMu.Unlock()
	return nil
}

// unregisterJob removes the job and wakes its waiters.
func (c *Conn) unregisterJob(j *Job) {
	c.jobsMu.Lock()
	for i, other := range c.jobs {
		if other == j {
			c.jobs = append(c.jobs[:i], c.jobs[i+1:]...)
			break
		}
	}
	c.jobsMu.Unlock()
	j.finish()
	c.startNext()
}

// findJob returns the first registered job matching the predicate.
func (c *Conn) findJob(pred func(*Job) bool) *Job {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	for _, j := range c.jobs {
		if pred(j) {
			return j
		}
	}
	return nil
}

// jobByID resolves a command's owning job.
func (c *Conn) jobByID(id uint64) *Job {
	if id == 0 {
		return nil
	}
	return c.findJob(func(j *Job) bool { return j.id == id })
}

// MatchesJob reports whether any registered job matches the mailbox/UID
// pair. Used by the pool; must be called without the queue lock held.
func (c *Conn) MatchesJob(kinds []JobKind, mailbox string, uid imapx.UID) *Job {
	return c.findJob(func(j *Job) bool {
		for _, k := range kinds {
			if j.kind == k && j.Matches(mailbox, uid) {
				return true
			}
		}
		return false
	})
}

// CommandCount returns the number of queued plus active commands, used for
// load balancing.
func (c *Conn) CommandCount() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	n := len(c.queue) + len(c.active)
	if c.literal != nil {
		n++
	}
	return n
}

// HasExpensiveCommand reports whether a refresh-info or fetch-new-messages
// job is registered.
func (c *Conn) HasExpensiveCommand() bool {
	return c.findJob(func(j *Job) bool { return j.kind.Expensive() }) != nil
}

// IsMailboxInActiveJobs reports whether any registered job targets the
// mailbox.
func (c *Conn) IsMailboxInActiveJobs(mailbox string) bool {
	return c.findJob(func(j *Job) bool { return j.mailbox == mailbox }) != nil
}

// SelectedMailbox returns the currently selected mailbox, if any.
func (c *Conn) SelectedMailbox() string {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()
	return c.selected
}

// summary resolves the folder summary for a mailbox.
func (c *Conn) summary(mailbox string) (imapx.Summary, error) {
	if c.opts.Store == nil {
		return nil, fmt.Errorf("imapx: no store summary configured")
	}
	return c.opts.Store.Summary(mailbox)
}

// flushChanges hands accumulated change-info to the mailbox summary. Only
// called at safe points.
func (c *Conn) flushChanges(mailbox string) {
	c.changeMu.Lock()
	if c.change.Empty() {
		c.changeMu.Unlock()
		return
	}
	info := c.change
	c.change = imapx.ChangeInfo{}
	c.changeMu.Unlock()

	if mailbox == "" {
		mailbox = c.SelectedMailbox()
	}
	if mailbox == "" {
		return
	}
	summary, err := c.summary(mailbox)
	if err != nil {
		c.logger.Warn("no summary for changed mailbox", "mailbox", mailbox, "err", err)
		return
	}
	summary.Changed(&info)
	if err := summary.Save(); err != nil {
		c.logger.Warn("summary save failed", "mailbox", mailbox, "err", err)
	}
}

// recordChange accumulates a change for the next flush.
func (c *Conn) recordChange(fn func(ci *imapx.ChangeInfo)) {
	c.changeMu.Lock()
	fn(&c.change)
	c.changeMu.Unlock()
}

// Namespace returns the server's personal namespace, nil before the
// NAMESPACE exchange.
func (c *Conn) Namespace() *imapwire.NamespaceData {
	c.extMu.Lock()
	defer c.extMu.Unlock()
	return c.namespace
}

// QResyncEnabled reports whether the server confirmed QRESYNC via ENABLED.
func (c *Conn) QResyncEnabled() bool {
	c.extMu.Lock()
	defer c.extMu.Unlock()
	return c.qresyncEnabled
}

// addFetchObserver routes untagged FETCH data to a job. The observer runs
// on the reader goroutine and returns true when it claims the response.
func (c *Conn) addFetchObserver(jobID uint64, fn func(mailbox string, data *imapx.FetchData) bool) {
	c.extMu.Lock()
	c.fetchObservers[jobID] = fn
	c.extMu.Unlock()
}

func (c *Conn) removeFetchObserver(jobID uint64) {
	c.extMu.Lock()
	delete(c.fetchObservers, jobID)
	c.extMu.Unlock()
}

// setBodySink streams BODY[] literals for the given UID to sink instead of
// discarding them.
func (c *Conn) setBodySink(uid imapx.UID, sink imapwire.FetchBodySink) {
	c.extMu.Lock()
	c.bodySinks[uid] = sink
	c.extMu.Unlock()
}

func (c *Conn) clearBodySink(uid imapx.UID) {
	c.extMu.Lock()
	delete(c.bodySinks, uid)
	c.extMu.Unlock()
}
