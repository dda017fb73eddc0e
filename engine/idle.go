package engine

import (
	"sync"
	"time"

	"github.com/emersion/go-imapx"
)

// idleDwell is how long the connection must stay quiet before IDLE is
// issued. Bursty workloads would otherwise pay an IDLE/DONE round-trip
// between every pair of commands.
const idleDwell = 2 * time.Second

type idlePhase int

const (
	idleOff idlePhase = iota
	// idlePending: the dwell timer is armed.
	idlePending
	// idleIssued: IDLE is on the wire, the "+" prompt has not arrived.
	idleIssued
	// idleStarted: the server acknowledged; we are idling.
	idleStarted
	// idleCancel: stop requested before the "+" arrived; DONE goes out the
	// moment the prompt lands.
	idleCancel
	// idleWaitDone: DONE is on the wire, awaiting the tagged response.
	idleWaitDone
)

// idleState runs the IDLE sub-state machine of one connection. All
// transitions happen under mu; wire writes happen outside it.
type idleState struct {
	conn *Conn

	mu    sync.Mutex
	phase idlePhase
	timer *time.Timer
}

// active reports whether an IDLE command owns the wire, blocking the
// scheduler from transmitting anything else.
func (s *idleState) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case idleIssued, idleStarted, idleCancel, idleWaitDone:
		return true
	}
	return false
}

// maybeStart arms the dwell timer when the connection is quiet and idling
// is both configured and advertised.
func (s *idleState) maybeStart() {
	c := s.conn
	if !c.opts.Settings.UseIdle() || !c.Caps().Has(imapx.CapIdle) {
		return
	}
	switch c.State() {
	case StateInitialised, StateSelected:
	default:
		return
	}
	if c.pendingWork() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != idleOff {
		return
	}
	s.phase = idlePending
	if s.timer == nil {
		s.timer = time.AfterFunc(idleDwell, s.fire)
	} else {
		s.timer.Reset(idleDwell)
	}
}

// fire transmits IDLE when the dwell elapses with the connection still
// quiet.
func (s *idleState) fire() {
	c := s.conn

	s.mu.Lock()
	if s.phase != idlePending {
		s.mu.Unlock()
		return
	}
	if c.State() == StateShutdown || c.pendingWork() {
		s.phase = idleOff
		s.mu.Unlock()
		c.startNext()
		return
	}
	s.phase = idleIssued
	s.mu.Unlock()

	cmd := c.newCommand("IDLE", "", PriorityIdle, "IDLE")
	cmd.complete = func(cmd *Command) { s.finished() }
	cmd.close()

	c.queueMu.Lock()
	if len(c.queue) > 0 || len(c.active) > 0 {
		// Work slipped in after the quiet check; back off.
		c.queueMu.Unlock()
		s.mu.Lock()
		s.phase = idleOff
		s.mu.Unlock()
		cmd.markComplete(nil, nil)
		c.startNext()
		return
	}
	c.active = append(c.active, cmd)
	metricActiveCommands.Inc()
	metricCommands.WithLabelValues(cmd.name).Inc()
	c.queueMu.Unlock()

	select {
	case c.sendCh <- cmd:
	case <-c.shutdownCh:
	}
}

// onContinuation consumes the "+" acknowledging IDLE. Returns false when
// no IDLE is in flight, so the caller can report a protocol violation.
func (s *idleState) onContinuation() bool {
	s.mu.Lock()
	switch s.phase {
	case idleIssued:
		s.phase = idleStarted
		s.mu.Unlock()
		s.conn.logger.Debug("idling")
		return true
	case idleCancel:
		s.phase = idleWaitDone
		s.mu.Unlock()
		s.writeDone()
		return true
	}
	s.mu.Unlock()
	return false
}

// requestStop ends (or prevents) the current IDLE so queued work can run.
func (s *idleState) requestStop() {
	s.mu.Lock()
	switch s.phase {
	case idlePending:
		s.phase = idleOff
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
	case idleIssued:
		s.phase = idleCancel
		s.mu.Unlock()
	case idleStarted:
		s.phase = idleWaitDone
		s.mu.Unlock()
		s.writeDone()
	default:
		s.mu.Unlock()
	}
}

// restartIfIdling cycles an established IDLE, used as the inactivity
// keep-alive. Reports whether a cycle was initiated; the completion path
// re-idles through the normal dwell.
func (s *idleState) restartIfIdling() bool {
	s.mu.Lock()
	switch s.phase {
	case idleStarted:
		s.phase = idleWaitDone
		s.mu.Unlock()
		s.conn.logger.Debug("restarting idle")
		s.writeDone()
		return true
	case idleIssued:
		s.phase = idleCancel
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	return false
}

// writeDone terminates the IDLE on the wire.
func (s *idleState) writeDone() {
	c := s.conn
	c.writeMu.Lock()
	_, err := c.bw.WriteString("DONE\r\n")
	if err == nil {
		err = c.bw.Flush()
	}
	c.writeMu.Unlock()
	if err != nil {
		c.Shutdown(classifyTransportErr(err))
	}
}

// finished processes the IDLE command's tagged response: whatever phase
// the stop path reached, the machine returns to OFF and the scheduler
// takes over.
func (s *idleState) finished() {
	s.mu.Lock()
	s.phase = idleOff
	s.mu.Unlock()
}
