package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Step is one operation of a provisioning plan.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// StepError names the step that aborted a plan.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Driver applies provisioning plans to the machine its Runner targets.
// Plans are fail-fast: the first failing step aborts the rest and nothing
// already applied is rolled back.
type Driver struct {
	runner   Runner
	dryRun   bool
	Progress func(step string)
	Warn     func(msg string)
}

// NewDriver returns a driver over runner. With dryRun set, file writes are
// logged instead of performed; commands go to runner either way.
func NewDriver(runner Runner, dryRun bool) *Driver {
	return &Driver{runner: runner, dryRun: dryRun}
}

// Runner returns the runner commands are sent to.
func (d *Driver) Runner() Runner {
	return d.runner
}

// DryRun reports whether file writes are suppressed.
func (d *Driver) DryRun() bool {
	return d.dryRun
}

func (d *Driver) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("Warning: %s", msg)
	if d.Warn != nil {
		d.Warn(msg)
	}
}

// Apply runs steps in order and stops at the first failure.
func (d *Driver) Apply(ctx context.Context, steps ...Step) error {
	for i, s := range steps {
		log.Printf("[%d/%d] %s", i+1, len(steps), s.Name)
		if d.Progress != nil {
			d.Progress(s.Name)
		}
		if err := s.Run(ctx); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
	}
	return nil
}

// Exec is a step running one command.
func (d *Driver) Exec(c Command) Step {
	return Step{
		Name: c.String(),
		Run: func(ctx context.Context) error {
			_, err := d.runner.Run(ctx, c)
			return err
		},
	}
}

// Cmd is Exec for a command with only a name and arguments.
func (d *Driver) Cmd(name string, args ...string) Step {
	return d.Exec(Command{Name: name, Args: args})
}

// Install returns the steps that install packages with apt-get.
func (d *Driver) Install(packages ...string) []Step {
	env := []string{"DEBIAN_FRONTEND=noninteractive"}
	return []Step{
		d.Exec(Command{Name: "apt-get", Args: []string{"update"}, Env: env}),
		d.Exec(Command{Name: "apt-get", Args: append([]string{"install", "-y"}, packages...), Env: env}),
	}
}

// Systemctl is a step running systemctl action unit.
func (d *Driver) Systemctl(action, unit string) Step {
	return d.Cmd("systemctl", action, unit)
}

// Sysctl sets a kernel parameter for the running system.
func (d *Driver) Sysctl(key, value string) Step {
	return d.Cmd("sysctl", "-w", key+"="+value)
}

// OpenPort allows port/proto through ufw. A missing ufw is a warning, not a
// failure: the operator is told to open the port by hand.
func (d *Driver) OpenPort(port int, proto string) Step {
	rule := strconv.Itoa(port) + "/" + proto
	return Step{
		Name: "open firewall port " + rule,
		Run: func(ctx context.Context) error {
			if _, err := d.runner.LookPath("ufw"); err != nil {
				d.warnf("ufw is not installed; open port %s on the firewall manually", rule)
				return nil
			}
			_, err := d.runner.Run(ctx, Command{Name: "ufw", Args: []string{"allow", rule}})
			return err
		},
	}
}

// MkdirAll creates dir with perm.
func (d *Driver) MkdirAll(dir string, perm os.FileMode) Step {
	return Step{
		Name: fmt.Sprintf("create directory %s", dir),
		Run: func(context.Context) error {
			if d.dryRun {
				log.Printf("dry-run: mkdir -p -m %o %s", perm, dir)
				return nil
			}
			return errors.Wrapf(os.MkdirAll(dir, perm), "failed to create %s", dir)
		},
	}
}

// WriteFile writes data to path, replacing any existing file, and applies
// perm. Missing parent directories are created.
func (d *Driver) WriteFile(path string, data []byte, perm os.FileMode) Step {
	return Step{
		Name: fmt.Sprintf("write %s", path),
		Run: func(context.Context) error {
			if d.dryRun {
				log.Printf("dry-run: write %d bytes to %s (mode %o)", len(data), path, perm)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return errors.Wrapf(err, "failed to create directory for %s", path)
			}
			if err := os.WriteFile(path, data, perm); err != nil {
				return errors.Wrapf(err, "failed to write %s", path)
			}
			return errors.Wrapf(os.Chmod(path, perm), "failed to chmod %s", path)
		},
	}
}

const authorizeKeyScript = `umask 077 && mkdir -p "$HOME/.ssh" && touch "$HOME/.ssh/authorized_keys" && ` +
	`{ grep -qxF -e "$1" "$HOME/.ssh/authorized_keys" || printf '%s\n' "$1" >> "$HOME/.ssh/authorized_keys"; }`

// AuthorizeKey adds the authorized_keys line to the login user's
// authorized_keys on the runner's host unless it is already there.
func (d *Driver) AuthorizeKey(line []byte) Step {
	line = bytes.TrimRight(line, "\n")
	s := d.Exec(Command{
		Name:         "sh",
		Args:         []string{"-c", authorizeKeyScript, "sh", string(line)},
		Unprivileged: true,
	})
	s.Name = "authorize SSH key"
	return s
}

// AppendLine appends line to path unless an identical line is already
// present, then applies perm.
func (d *Driver) AppendLine(path string, line []byte, perm os.FileMode) Step {
	line = bytes.TrimRight(line, "\n")
	return Step{
		Name: fmt.Sprintf("add entry to %s", path),
		Run: func(context.Context) error {
			if d.dryRun {
				log.Printf("dry-run: append %d bytes to %s (mode %o)", len(line), path, perm)
				return nil
			}
			existing, err := os.ReadFile(path)
			if err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "failed to read %s", path)
			}
			for _, l := range bytes.Split(existing, []byte("\n")) {
				if bytes.Equal(bytes.TrimSpace(l), line) {
					log.Printf("%s already contains the entry", path)
					return errors.Wrapf(os.Chmod(path, perm), "failed to chmod %s", path)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return errors.Wrapf(err, "failed to create directory for %s", path)
			}
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
			if err != nil {
				return errors.Wrapf(err, "failed to open %s", path)
			}
			if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
				line = append([]byte("\n"), line...)
			}
			if _, err := f.Write(append(line, '\n')); err != nil {
				f.Close()
				return errors.Wrapf(err, "failed to append to %s", path)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "failed to close %s", path)
			}
			return errors.Wrapf(os.Chmod(path, perm), "failed to chmod %s", path)
		},
	}
}

// Func wraps arbitrary in-process work as a step.
func Func(name string, fn func(ctx context.Context) error) Step {
	return Step{Name: name, Run: fn}
}
