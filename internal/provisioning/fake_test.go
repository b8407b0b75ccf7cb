package provisioning

import (
	"context"
	"os/exec"
	"sync"
)

// fakeRunner records commands and answers from canned results keyed by
// Command.String.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	unpriv   []string
	missing  map[string]bool
	outputs  map[string][]byte
	failures map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		missing:  map[string]bool{},
		outputs:  map[string][]byte{},
		failures: map[string]error{},
	}
}

func (f *fakeRunner) Run(_ context.Context, c Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := c.String()
	f.commands = append(f.commands, s)
	if c.Unprivileged {
		f.unpriv = append(f.unpriv, s)
	}
	return f.outputs[s], f.failures[s]
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Unprivileged lists the commands that asked to skip sudo.
func (f *fakeRunner) Unprivileged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unpriv...)
}

type fakeRemote struct {
	*fakeRunner
	closed bool
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}
