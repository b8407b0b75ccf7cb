package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/render"
)

// Command is one external program invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
	// Unprivileged runs the command as the login user even on a runner
	// that elevates with sudo.
	Unprivileged bool
}

var plainArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// String renders the command as an operator could paste it into a shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)
	for _, e := range c.Env {
		parts = append(parts, quoteArg(e))
	}
	parts = append(parts, quoteArg(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if plainArg.MatchString(s) {
		return s
	}
	return render.ShellQuote(s)
}

// CommandError is returned when an external command exits non-zero or
// cannot be started.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command `%s` failed", e.Command)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		return msg + ": " + stderr
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes external commands. Run waits for completion and returns
// standard output; a non-zero exit yields *CommandError carrying the
// captured standard error.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
	LookPath(file string) (string, error)
}

// ExecRunner runs commands on the local machine.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("running: %s", c)
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return stdout.Bytes(), &CommandError{
			Command:  c.String(),
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// DryRunRunner records commands instead of running them. Every tool is
// reported as installed.
type DryRunRunner struct {
	mu       sync.Mutex
	commands []Command
}

// NewDryRunRunner creates a dry-run runner.
func NewDryRunRunner() *DryRunRunner {
	log.Println("--- dry run: commands are printed, not executed ---")
	return &DryRunRunner{}
}

func (r *DryRunRunner) Run(_ context.Context, c Command) ([]byte, error) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
	log.Printf("dry-run: %s", c)
	return nil, nil
}

func (r *DryRunRunner) LookPath(file string) (string, error) {
	if strings.Contains(file, "/") {
		return file, nil
	}
	return "/usr/bin/" + file, nil
}

// Commands returns the recorded commands in order.
func (r *DryRunRunner) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}
