package engine

import "github.com/emersion/go-imapx/internal/imapwire"

// Submit registers the job with the connection and runs its start handler,
// which enqueues the job's first command(s). The job completes when its
// last command does.
func (c *Conn) Submit(j *Job) error {
	if err := c.registerJob(j); err != nil {
		j.SetError(err)
		j.finish()
		return err
	}
	if j.start == nil {
		c.unregisterJob(j)
		return nil
	}
	if err := j.start(j); err != nil {
		j.SetError(err)
		c.unregisterJob(j)
		return err
	}
	if j.commandCountZero() {
		// The start handler found nothing to do (e.g. an already-clean
		// flag sync); there is no completion to release the job.
		c.unregisterJob(j)
	}
	return nil
}

// enqueueJobCommand ties a command to its owning job and enqueues it. The
// onComplete handler runs on the reader goroutine with the tagged response
// recorded; it may enqueue follow-up commands for the same job. When the
// job's last command completes, the job is unregistered.
func (c *Conn) enqueueJobCommand(j *Job, cmd *Command, onComplete func(cmd *Command) error) {
	if err := j.cancelled(); err != nil {
		j.SetError(err)
		if j.commandCountZero() {
			c.unregisterJob(j)
		}
		return
	}
	cmd.jobID = j.id
	j.addCommand()
	cmd.complete = func(cmd *Command) {
		if err := cmd.result(); err != nil {
			j.SetError(err)
		} else if onComplete != nil {
			if err := onComplete(cmd); err != nil {
				j.SetError(err)
			}
		}
		if j.commandDone() {
			c.unregisterJob(j)
		}
	}
	c.enqueueCommand(cmd)
}

// startNext is the scheduler: called whenever the queue, the active set,
// the selected mailbox or the IDLE state changes. It transmits every
// queued command that may start now, initiating mailbox selection and
// stopping IDLE as needed.
func (c *Conn) startNext() {
	if c.State() == StateShutdown {
		return
	}

	// An active IDLE owns the connection: request DONE if real work is
	// waiting, transmit nothing until the idle command completes. The IDLE
	// command itself sits in the active set, so only queued work counts.
	if c.idle.active() {
		if c.queuedWork() {
			c.idle.requestStop()
		}
		return
	}

	for {
		cmd, selectTarget := c.pickNext()
		if selectTarget != "" {
			c.issueSelect(selectTarget)
			continue
		}
		if cmd == nil {
			break
		}
		select {
		case c.sendCh <- cmd:
		case <-c.shutdownCh:
			return
		}
	}

	c.idle.maybeStart()
}

// pendingWork reports whether any command is queued or active.
func (c *Conn) pendingWork() bool {
	return c.CommandCount() > 0
}

// pickNext applies the start rules to the queue and either pops one
// runnable command, or names a mailbox that must be selected first, or
// returns neither.
//
// A command may start only if no literal transmission is in progress, the
// active set has room, no active command for the same mailbox outranks it,
// and its mailbox affinity matches the selected mailbox. A command whose
// mailbox is not selected triggers a SELECT once the active set drains.
func (c *Conn) pickNext() (cmd *Command, selectTarget string) {
	c.selectMu.Lock()
	selected, selecting := c.selected, c.selecting
	c.selectMu.Unlock()

	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.literal != nil || len(c.active) >= MaxActiveCommands {
		return nil, ""
	}

	for i, qc := range c.queue {
		if qc.priority < c.priorityFloorLocked(qc.mailbox) {
			continue
		}
		if qc.mailbox != "" && qc.mailbox != selected {
			if selecting != "" {
				// A selection is in flight; wait for it.
				continue
			}
			if len(c.active) > 0 {
				// SELECT only goes out on a quiet connection.
				continue
			}
			c.selectMu.Lock()
			if c.selecting == "" {
				c.selecting = qc.mailbox
				selectTarget = qc.mailbox
			}
			c.selectMu.Unlock()
			return nil, selectTarget
		}
		if selecting != "" {
			// Untargeted commands also wait out a selection switch.
			continue
		}

		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		c.active = append(c.active, qc)
		metricActiveCommands.Inc()
		if commandNeedsLiteral(qc) {
			c.literal = qc
		}
		return qc, ""
	}
	return nil, ""
}

// priorityFloorLocked returns the highest priority among active commands
// with the given mailbox affinity. Queued commands below the floor wait,
// which preserves per-mailbox ordering between priority classes.
func (c *Conn) priorityFloorLocked(mailbox string) int {
	floor := minPriority
	for _, a := range c.active {
		if a.mailbox == mailbox && a.priority > floor {
			floor = a.priority
		}
	}
	return floor
}

const minPriority = -1 << 31

// commandNeedsLiteral reports whether any part requires the continuation
// protocol, reserving the literal slot for the whole transmission.
func commandNeedsLiteral(cmd *Command) bool {
	for i := range cmd.parts {
		if cmd.parts[i].Kind != imapwire.PartSimple {
			return true
		}
	}
	return false
}
