package lifecycle

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/provisioning"
	"github.com/skoret/jumpwire/internal/storage"
)

// EventRecorder stores lifecycle events. storage.Repository implements it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, e *storage.Event) error
}

// Controller starts, stops and inspects targets. Tunnel targets run as
// detached autossh processes tracked by a PID file; the others are
// system services.
type Controller struct {
	root     *config.Root
	store    *config.Store
	proc     Process
	services *provisioning.Services
	events   EventRecorder
}

// NewController builds a controller. events may be nil.
func NewController(root *config.Root, store *config.Store, proc Process, services *provisioning.Services, events EventRecorder) *Controller {
	return &Controller{root: root, store: store, proc: proc, services: services, events: events}
}

// StartResult describes what Start did.
type StartResult struct {
	PID            int
	Unit           string
	Command        []string
	AlreadyRunning bool
	// Stale is set when a PID file of a dead process was replaced.
	Stale bool
}

// StopResult describes what Stop did.
type StopResult struct {
	PID  int
	Unit string
	// NotRunning is set when there was nothing to stop.
	NotRunning bool
	// Stale is set when the recorded process was already gone.
	Stale bool
}

func (c *Controller) pidFile(t config.Target) PIDFile {
	return PIDFile{Path: c.root.PIDFile(t)}
}

func (c *Controller) logPath(t config.Target) string {
	return filepath.Join(c.root.Home(), string(t)+".log")
}

func (c *Controller) record(ctx context.Context, t config.Target, action, detail string) {
	if c.events == nil {
		return
	}
	if err := c.events.RecordEvent(ctx, &storage.Event{Target: string(t), Action: action, Detail: detail}); err != nil {
		log.Printf("Warning: failed to record %s event: %v", action, err)
	}
}

// livePID reads the PID file of t. A corrupt file or a dead PID is
// reported as stale with pid 0.
func (c *Controller) livePID(t config.Target) (pid int, stale bool, err error) {
	pid, ok, err := c.pidFile(t).Read()
	if !ok {
		return 0, false, err
	}
	if err != nil {
		log.Printf("treating unreadable PID file as stale: %v", err)
		return 0, true, nil
	}
	if !c.proc.Alive(pid) {
		log.Printf("PID %d of %s is not running", pid, t)
		return 0, true, nil
	}
	return pid, false, nil
}

// Start brings t up. It fails with *config.MissingConfigurationError when
// setup never ran for t, and is a no-op when t is already running.
func (c *Controller) Start(ctx context.Context, t config.Target) (*StartResult, error) {
	conn, err := c.store.Get(t)
	if err != nil {
		return nil, err
	}
	if !t.Tunneled() {
		return c.startService(ctx, t, conn)
	}

	argv, err := TunnelCommand(t, conn)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s configuration", t)
	}
	pid, stale, err := c.livePID(t)
	if err != nil {
		return nil, err
	}
	if pid > 0 {
		return &StartResult{PID: pid, Command: argv, AlreadyRunning: true}, nil
	}

	if err := c.root.Ensure(); err != nil {
		return nil, err
	}
	pid, err = c.proc.Launch(argv, []string{"AUTOSSH_GATETIME=0"}, c.logPath(t))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s tunnel", t)
	}
	if pid <= 0 {
		return nil, errors.Errorf("started %s tunnel but could not resolve its PID", t)
	}
	if err := c.pidFile(t).Write(pid); err != nil {
		if termErr := c.proc.Terminate(pid); termErr != nil && termErr != ErrNoProcess {
			log.Printf("Warning: failed to stop untracked PID %d: %v", pid, termErr)
		}
		return nil, errors.Wrap(err, "tunnel stopped because its PID could not be recorded")
	}
	c.record(ctx, t, "start", fmt.Sprintf("pid %d: %s", pid, strings.Join(argv, " ")))
	return &StartResult{PID: pid, Command: argv, Stale: stale}, nil
}

func (c *Controller) startService(ctx context.Context, t config.Target, conn config.Connection) (*StartResult, error) {
	unit, err := provisioning.ServiceUnit(t, conn)
	if err != nil {
		return nil, err
	}
	state, err := c.services.Active(ctx, unit)
	if err != nil {
		return nil, err
	}
	if state == "active" {
		return &StartResult{Unit: unit, AlreadyRunning: true}, nil
	}
	if err := c.services.Start(ctx, unit); err != nil {
		return nil, err
	}
	c.record(ctx, t, "start", unit)
	return &StartResult{Unit: unit}, nil
}

// Stop brings t down. A missing PID file means nothing is running and no
// process is signaled; a PID file of a dead process is removed and the
// stop still succeeds.
func (c *Controller) Stop(ctx context.Context, t config.Target) (*StopResult, error) {
	if !t.Tunneled() {
		return c.stopService(ctx, t)
	}

	pf := c.pidFile(t)
	pid, ok, err := pf.Read()
	if !ok {
		if err != nil {
			return nil, err
		}
		return &StopResult{NotRunning: true}, nil
	}
	res := &StopResult{PID: pid}
	if err != nil {
		log.Printf("removing unreadable PID file: %v", err)
		res.Stale = true
	} else if err := c.proc.Terminate(pid); err != nil {
		if err != ErrNoProcess {
			return nil, err
		}
		res.Stale = true
	}
	if err := pf.Remove(); err != nil {
		return nil, err
	}
	if res.Stale {
		c.record(ctx, t, "stop", "stale PID file removed")
	} else {
		c.record(ctx, t, "stop", "pid "+strconv.Itoa(pid))
	}
	return res, nil
}

func (c *Controller) stopService(ctx context.Context, t config.Target) (*StopResult, error) {
	conn, err := c.store.Get(t)
	if err != nil {
		return nil, err
	}
	unit, err := provisioning.ServiceUnit(t, conn)
	if err != nil {
		return nil, err
	}
	state, err := c.services.Active(ctx, unit)
	if err != nil {
		return nil, err
	}
	if state != "active" {
		return &StopResult{Unit: unit, NotRunning: true}, nil
	}
	if err := c.services.Stop(ctx, unit); err != nil {
		return nil, err
	}
	c.record(ctx, t, "stop", unit)
	return &StopResult{Unit: unit}, nil
}

// Status is the observed state of one target.
type Status struct {
	Target config.Target
	State  State
	PID    int
	Unit   string
	Detail string
}

// State inspects t. A stale PID file is removed and reported as Stopped.
func (c *Controller) State(ctx context.Context, t config.Target) (*Status, error) {
	st := &Status{Target: t}
	conn, err := c.store.Get(t)
	var missing *config.MissingConfigurationError
	switch {
	case errors.As(err, &missing):
		st.State = NotConfigured
	case err != nil:
		return nil, err
	default:
		st.State = Configured
	}

	if !t.Tunneled() {
		if st.State == NotConfigured {
			return st, nil
		}
		if st.Unit, err = provisioning.ServiceUnit(t, conn); err != nil {
			return nil, err
		}
		state, err := c.services.Active(ctx, st.Unit)
		if err != nil {
			return nil, err
		}
		st.Detail = state
		switch state {
		case "active":
			st.State = Running
		case "inactive", "failed":
			st.State = Stopped
		}
		return st, nil
	}

	pid, stale, err := c.livePID(t)
	if err != nil {
		return nil, err
	}
	switch {
	case pid > 0:
		st.State = Running
		st.PID = pid
	case stale:
		if err := c.pidFile(t).Remove(); err != nil {
			return nil, err
		}
		c.record(ctx, t, "reconcile", "stale PID file removed")
		if st.State == Configured {
			st.State = Stopped
		}
		st.Detail = "stale PID file removed"
	}
	return st, nil
}
