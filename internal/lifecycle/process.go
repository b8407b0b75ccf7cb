package lifecycle

import (
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNoProcess is returned by Terminate when the PID no longer exists.
var ErrNoProcess = errors.New("no such process")

// Process starts and signals detached background processes.
type Process interface {
	// Launch starts argv detached from the current session, with env added
	// to the inherited environment and output appended to logPath. It
	// returns the PID of the started process.
	Launch(argv, env []string, logPath string) (int, error)
	// Alive checks pid without signaling it.
	Alive(pid int) bool
	// Terminate sends SIGTERM to pid, or returns ErrNoProcess.
	Terminate(pid int) error
}

// DefaultSettle is how long a launched process must survive to count as
// started.
const DefaultSettle = 2 * time.Second

// OSProcess implements Process with fork/exec and kill(2).
type OSProcess struct {
	Settle time.Duration
}

// NewOSProcess returns an OSProcess with the default settle window.
func NewOSProcess() *OSProcess {
	return &OSProcess{Settle: DefaultSettle}
}

func (p *OSProcess) Launch(argv, env []string, logPath string) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	out, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %s", logPath)
	}
	defer out.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "failed to start %s", argv[0])
	}
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return 0, errors.Errorf("failed to resolve PID of %s", argv[0])
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case err := <-exited:
		if err == nil {
			err = errors.New("exit status 0")
		}
		return 0, errors.Errorf("%s exited right after start (%v), see %s", argv[0], err, logPath)
	case <-time.After(p.Settle):
	}
	log.Printf("launched %s with PID %d", argv[0], pid)
	return pid, nil
}

func (p *OSProcess) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func (p *OSProcess) Terminate(pid int) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	err := unix.Kill(pid, unix.SIGTERM)
	if err == unix.ESRCH {
		return ErrNoProcess
	}
	return errors.Wrapf(err, "failed to signal PID %d", pid)
}
