package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoret/jumpwire/internal/artifact"
	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/provisioning"
	"github.com/skoret/jumpwire/internal/storage"
)

type fakeProcess struct {
	alive      map[int]bool
	nextPID    int
	launched   [][]string
	env        []string
	terminated []int
	launchErr  error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{alive: map[int]bool{}, nextPID: 4242}
}

func (p *fakeProcess) Launch(argv, env []string, _ string) (int, error) {
	p.launched = append(p.launched, argv)
	p.env = env
	if p.launchErr != nil {
		return 0, p.launchErr
	}
	pid := p.nextPID
	if pid > 0 {
		p.alive[pid] = true
	}
	return pid, nil
}

func (p *fakeProcess) Alive(pid int) bool { return p.alive[pid] }

func (p *fakeProcess) Terminate(pid int) error {
	p.terminated = append(p.terminated, pid)
	if !p.alive[pid] {
		return ErrNoProcess
	}
	delete(p.alive, pid)
	return nil
}

type memoryEvents struct {
	events []*storage.Event
}

func (m *memoryEvents) RecordEvent(_ context.Context, e *storage.Event) error {
	m.events = append(m.events, e)
	return nil
}

// systemctl answers is-active from a fixed state and records commands.
type systemctl struct {
	state    string
	commands []string
}

func (s *systemctl) Run(_ context.Context, c provisioning.Command) ([]byte, error) {
	s.commands = append(s.commands, c.String())
	if len(c.Args) > 0 && c.Args[0] == "is-active" {
		if s.state != "active" {
			return []byte(s.state + "\n"), &provisioning.CommandError{Command: c.String(), ExitCode: 3}
		}
		return []byte("active\n"), nil
	}
	return nil, nil
}

func (s *systemctl) LookPath(file string) (string, error) { return "/usr/bin/" + file, nil }

type fixture struct {
	root   *config.Root
	store  *config.Store
	proc   *fakeProcess
	sysctl *systemctl
	events *memoryEvents
	ctrl   *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	off := false
	root, err := config.LoadRoot(config.Overrides{
		Home:        filepath.Join(dir, "home"),
		ArtifactDir: filepath.Join(dir, "out"),
		DryRun:      &off,
		Verbose:     &off,
	})
	require.NoError(t, err)
	f := &fixture{
		root:   root,
		store:  config.NewStore(root.ConfigFile()),
		proc:   newFakeProcess(),
		sysctl: &systemctl{state: "inactive"},
		events: &memoryEvents{},
	}
	f.ctrl = NewController(root, f.store, f.proc, provisioning.NewServices(f.sysctl), f.events)
	return f
}

var reverseConn = config.Connection{
	"server_ip": "203.0.113.5",
	"port":      "2222",
	"username":  "operator",
	"ssh_port":  "22",
	"key_path":  "/home/operator/.jumpwire/jumpbox_key",
}

func TestStartRequiresSetup(t *testing.T) {
	f := newFixture(t)
	for _, target := range config.Targets {
		_, err := f.ctrl.Start(context.Background(), target)
		var missing *config.MissingConfigurationError
		require.True(t, errors.As(err, &missing), target)
		assert.Equal(t, target, missing.Target)
	}
	assert.Empty(t, f.proc.launched)
	assert.Empty(t, f.sysctl.commands)
}

func TestSetupThenStartReverseSSH(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := provisioning.NewDriver(provisioning.NewDryRunRunner(), false)
	p, err := provisioning.New(config.ReverseSSH, provisioning.Deps{
		Root:     f.root,
		Driver:   driver,
		Packager: artifact.NewPackager(f.root.ArtifactDir(), nil),
	})
	require.NoError(t, err)

	authKeys := filepath.Join(t.TempDir(), ".ssh", "authorized_keys")
	_, err = provisioning.Setup(ctx, p, driver, f.store, config.Connection{
		"server_ip":       "203.0.113.5",
		"port":            "2222",
		"username":        "operator",
		"authorized_keys": authKeys,
	}, provisioning.Options{})
	require.NoError(t, err)

	res, err := f.ctrl.Start(ctx, config.ReverseSSH)
	require.NoError(t, err)
	assert.Equal(t, 4242, res.PID)

	line := strings.Join(f.proc.launched[0], " ")
	assert.Contains(t, line, "-R 2222:localhost:22")
	assert.Contains(t, line, "operator@203.0.113.5")
	assert.Equal(t, []string{"AUTOSSH_GATETIME=0"}, f.proc.env)

	pid, ok, err := PIDFile{Path: f.root.PIDFile(config.ReverseSSH)}.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)

	st, err := f.ctrl.State(ctx, config.ReverseSSH)
	require.NoError(t, err)
	assert.Equal(t, Running, st.State)
}

func TestStartWhenAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(config.ReverseSSH, reverseConn))
	require.NoError(t, PIDFile{Path: f.root.PIDFile(config.ReverseSSH)}.Write(777))
	f.proc.alive[777] = true

	res, err := f.ctrl.Start(context.Background(), config.ReverseSSH)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, 777, res.PID)
	assert.Empty(t, f.proc.launched)
}

func TestStartReplacesDeadPID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(config.ReverseSSH, reverseConn))
	pf := PIDFile{Path: f.root.PIDFile(config.ReverseSSH)}
	require.NoError(t, pf.Write(777))

	res, err := f.ctrl.Start(context.Background(), config.ReverseSSH)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Len(t, f.proc.launched, 1)

	pid, _, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestStartWithoutPIDIsAnError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(config.ReverseSSH, reverseConn))
	f.proc.nextPID = 0

	_, err := f.ctrl.Start(context.Background(), config.ReverseSSH)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PID")
	assert.NoFileExists(t, f.root.PIDFile(config.ReverseSSH))
}

func TestStartLaunchFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(config.ReverseSSH, reverseConn))
	f.proc.launchErr = errors.New("autossh exited right after start")

	_, err := f.ctrl.Start(context.Background(), config.ReverseSSH)
	require.Error(t, err)
	assert.NoFileExists(t, f.root.PIDFile(config.ReverseSSH))
}

func TestStopWithoutPIDFile(t *testing.T) {
	f := newFixture(t)
	res, err := f.ctrl.Stop(context.Background(), config.ReverseSSH)
	require.NoError(t, err)
	assert.True(t, res.NotRunning)
	assert.Empty(t, f.proc.terminated)
}

func TestStopStalePID(t *testing.T) {
	f := newFixture(t)
	pf := PIDFile{Path: f.root.PIDFile(config.TorSSH)}
	require.NoError(t, pf.Write(999))

	res, err := f.ctrl.Stop(context.Background(), config.TorSSH)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, []int{999}, f.proc.terminated)
	assert.NoFileExists(t, pf.Path)
}

func TestStopCorruptPIDFile(t *testing.T) {
	f := newFixture(t)
	pf := PIDFile{Path: f.root.PIDFile(config.TorSSH)}
	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0700))
	require.NoError(t, os.WriteFile(pf.Path, []byte("garbage"), 0600))

	res, err := f.ctrl.Stop(context.Background(), config.TorSSH)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Empty(t, f.proc.terminated)
	assert.NoFileExists(t, pf.Path)
}

func TestStartStopCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(config.TorSSH, config.Connection{
		"server_ip":  "198.51.100.20",
		"username":   "kali",
		"port":       "22",
		"socks_port": "1080",
	}))

	st, err := f.ctrl.State(ctx, config.TorSSH)
	require.NoError(t, err)
	assert.Equal(t, Configured, st.State)

	_, err = f.ctrl.Start(ctx, config.TorSSH)
	require.NoError(t, err)

	res, err := f.ctrl.Stop(ctx, config.TorSSH)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 4242, res.PID)
	assert.NoFileExists(t, f.root.PIDFile(config.TorSSH))

	st, err = f.ctrl.State(ctx, config.TorSSH)
	require.NoError(t, err)
	assert.True(t, st.State.CanStart())

	_, err = f.ctrl.Start(ctx, config.TorSSH)
	require.NoError(t, err)
	assert.Len(t, f.proc.launched, 2)

	var actions []string
	for _, e := range f.events.events {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"start", "stop", "start"}, actions)
}

func TestStateReconcilesStalePID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(config.ReverseSSH, reverseConn))
	pf := PIDFile{Path: f.root.PIDFile(config.ReverseSSH)}
	require.NoError(t, pf.Write(31337))

	st, err := f.ctrl.State(context.Background(), config.ReverseSSH)
	require.NoError(t, err)
	assert.Equal(t, Stopped, st.State)
	assert.NoFileExists(t, pf.Path)

	st, err = f.ctrl.State(context.Background(), config.OpenVPN)
	require.NoError(t, err)
	assert.Equal(t, NotConfigured, st.State)
}

func TestServiceTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(config.WireGuard, config.Connection{"server_ip": "203.0.113.5", "interface": "wg0"}))

	st, err := f.ctrl.State(ctx, config.WireGuard)
	require.NoError(t, err)
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, "wg-quick@wg0", st.Unit)

	res, err := f.ctrl.Start(ctx, config.WireGuard)
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	assert.Contains(t, f.sysctl.commands, "systemctl start wg-quick@wg0")

	f.sysctl.state = "active"
	res, err = f.ctrl.Start(ctx, config.WireGuard)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)

	stop, err := f.ctrl.Stop(ctx, config.WireGuard)
	require.NoError(t, err)
	assert.False(t, stop.NotRunning)
	assert.Contains(t, f.sysctl.commands, "systemctl stop wg-quick@wg0")
	assert.Empty(t, f.proc.launched)
}

func TestTunnelCommand(t *testing.T) {
	argv, err := TunnelCommand(config.ReverseSSH, reverseConn)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"autossh", "-M", "0", "-N",
		"-o", "ServerAliveInterval=60",
		"-o", "ServerAliveCountMax=3",
		"-o", "ExitOnForwardFailure=yes",
		"-i", "/home/operator/.jumpwire/jumpbox_key",
		"-p", "22",
		"-R", "2222:localhost:22",
		"operator@203.0.113.5",
	}, argv)

	argv, err = TunnelCommand(config.TorSSH, config.Connection{
		"server_ip": "198.51.100.20", "username": "kali", "port": "2200", "socks_port": "1080",
	})
	require.NoError(t, err)
	assert.NotContains(t, argv, "-i")
	assert.Equal(t, []string{"-p", "2200", "-L", "1080:localhost:9050", "kali@198.51.100.20"}, argv[len(argv)-5:])

	_, err = TunnelCommand(config.ReverseSSH, config.Connection{
		"server_ip": "-oProxyCommand=sh", "username": "operator", "port": "2222", "key_path": "/k",
	})
	assert.Error(t, err)

	_, err = TunnelCommand(config.ReverseSSH, config.Connection{
		"server_ip": "203.0.113.5", "username": "operator", "port": "70000", "key_path": "/k",
	})
	assert.Error(t, err)

	_, err = TunnelCommand(config.WireGuard, config.Connection{"server_ip": "203.0.113.5", "username": "x"})
	assert.Error(t, err)
}

func TestOSProcess(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	proc := &OSProcess{Settle: 500 * time.Millisecond}
	logPath := filepath.Join(t.TempDir(), "tunnel.log")

	pid, err := proc.Launch([]string{sleep, "30"}, nil, logPath)
	require.NoError(t, err)
	require.True(t, proc.Alive(pid))

	require.NoError(t, proc.Terminate(pid))
	require.Eventually(t, func() bool { return !proc.Alive(pid) }, 5*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, proc.Terminate(pid), ErrNoProcess)

	_, err = proc.Launch([]string{"sh", "-c", "echo boom; exit 1"}, nil, logPath)
	require.Error(t, err)
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
}
