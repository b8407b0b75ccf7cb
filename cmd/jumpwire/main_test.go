package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/console"
)

type env struct {
	home      string
	artifacts string
	out       bytes.Buffer
	errOut    bytes.Buffer
}

func newEnv(t *testing.T) *env {
	dir := t.TempDir()
	for _, k := range []string{"JUMPWIRE_HOME", "JUMPWIRE_ARTIFACT_DIR", "JUMPWIRE_DB", "JUMPWIRE_DRY_RUN", "JUMPWIRE_VERBOSE"} {
		t.Setenv(k, "")
	}
	return &env{home: filepath.Join(dir, "home"), artifacts: filepath.Join(dir, "out")}
}

func (e *env) run(args ...string) error {
	e.out.Reset()
	e.errOut.Reset()
	args = append([]string{"--home", e.home, "--artifact-dir", e.artifacts}, args...)
	return run(context.Background(), args, strings.NewReader(""), &e.out, &e.errOut)
}

func TestConnectionFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("setup", pflag.ContinueOnError)
	setupFlags(fs)
	require.NoError(t, fs.Parse([]string{"--server-ip", " 203.0.113.5 ", "--port", "2222", "--dns", "1.1.1.1"}))

	conn, ignored := connectionFromFlags(fs, config.ReverseSSH)
	assert.Equal(t, config.Connection{"server_ip": "203.0.113.5", "port": "2222"}, conn)
	assert.Equal(t, []string{"--dns"}, ignored)
}

func TestCompleteConnectionNonInteractive(t *testing.T) {
	p := console.NewPrompter(strings.NewReader(""), &bytes.Buffer{})

	conn := config.Connection{"server_ip": "203.0.113.5", "port": "2222"}
	err := completeConnection(config.ReverseSSH, conn, nil, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
	assert.Equal(t, "22", conn.Get("ssh_port"))
	assert.Equal(t, "root", conn.Get("jump_user"))

	conn = config.Connection{"server_ip": "203.0.113.5"}
	previous := config.Connection{"username": "operator", "port": "2200", "authorized_keys": "/srv/keys"}
	require.NoError(t, completeConnection(config.ReverseSSH, conn, previous, p))
	assert.Equal(t, "operator", conn.Get("username"))
	assert.Equal(t, "2200", conn.Get("port"))
	assert.Equal(t, "/srv/keys", conn.Get("authorized_keys"))
}

func TestCompleteConnectionPrompts(t *testing.T) {
	var out bytes.Buffer
	p := console.NewPrompter(strings.NewReader("198.51.100.20\nkali\n\n\n\n"), &out)
	p.Interactive = true

	conn := config.Connection{}
	require.NoError(t, completeConnection(config.TorSSH, conn, nil, p))
	assert.Equal(t, config.Connection{
		"server_ip":  "198.51.100.20",
		"username":   "kali",
		"port":       "22",
		"socks_port": "1080",
	}, conn)
	assert.Contains(t, out.String(), "Local SOCKS port [1080]: ")
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	err := e.run("teleport")
	require.Error(t, err)
	assert.Contains(t, e.errOut.String(), "Commands:")
}

func TestMethodRequiredWithoutTerminal(t *testing.T) {
	e := newEnv(t)
	err := e.run("start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--method")
}

func TestStartBeforeSetup(t *testing.T) {
	e := newEnv(t)
	err := e.run("start", "--method", "openvpn")
	var missing *config.MissingConfigurationError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, err.Error(), "jumpwire setup --method openvpn")
}

func TestStopWithoutTunnel(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.run("stop", "--method", "reverse-ssh"))
	assert.Contains(t, e.errOut.String(), "no reverse-ssh tunnel running")
}

func TestDryRunSetupAndHistory(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.run("--dry-run", "setup", "--method", "wireguard", "--server-ip", "203.0.113.5"))
	assert.Contains(t, e.out.String(), "wireguard setup complete")

	script := filepath.Join(e.artifacts, "setup_jumpbox_wireguard.sh")
	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	assert.FileExists(t, filepath.Join(e.artifacts, "jumpbox_wg0.png"))
	assert.NoFileExists(t, filepath.Join(e.home, "config.yaml"))

	require.NoError(t, e.run("history"))
	assert.Contains(t, e.out.String(), script)
	assert.Contains(t, e.out.String(), "setup")

	require.NoError(t, e.run("status"))
	assert.Contains(t, e.out.String(), "wireguard")
	assert.Contains(t, e.out.String(), "not configured")
}

func TestHelp(t *testing.T) {
	e := newEnv(t)
	err := e.run("setup", "--help")
	assert.Equal(t, pflag.ErrHelp, err)
	assert.Contains(t, e.errOut.String(), "--server-ip")
}

func TestGlobalFlagsBeforeAndAfterCommand(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, run(context.Background(),
		[]string{"--home", e.home, "--dry-run", "status"},
		strings.NewReader(""), &e.out, &e.errOut))
	assert.DirExists(t, e.home)
	assert.FileExists(t, filepath.Join(e.home, "ledger.db"))
	assert.Contains(t, e.errOut.String(), "dry run")

	other := filepath.Join(t.TempDir(), "other")
	e.errOut.Reset()
	require.NoError(t, run(context.Background(),
		[]string{"status", "--home", other, "--dry-run"},
		strings.NewReader(""), &e.out, &e.errOut))
	assert.DirExists(t, other)
	assert.Contains(t, e.errOut.String(), "dry run")
}
