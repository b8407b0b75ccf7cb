package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("get on empty store is missing configuration", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "config.yaml"))

		_, err := s.Get(ReverseSSH)

		var missing *MissingConfigurationError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, ReverseSSH, missing.Target)
		assert.Contains(t, err.Error(), "setup --method reverse-ssh")
	})

	t.Run("put keeps other targets", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "nested", "config.yaml"))

		require.NoError(t, s.Put(TorSSH, Connection{"server_ip": "198.51.100.7", "port": "22"}))
		require.NoError(t, s.Put(ReverseSSH, Connection{"server_ip": "203.0.113.5", "port": "2222"}))

		tor, err := s.Get(TorSSH)
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.7", tor.Get("server_ip"))

		rev, err := s.Get(ReverseSSH)
		require.NoError(t, err)
		assert.Equal(t, "2222", rev.Get("port"))

		info, err := os.Stat(s.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("hand edited integers load as strings", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yamlContent := `
wireguard:
  server_ip: 192.0.2.10
  port: 51820
bogus:
  x: y
`
		require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

		all, err := NewStore(path).Load()
		require.NoError(t, err)
		require.Len(t, all, 1)

		port, err := all[WireGuard].Port("port")
		require.NoError(t, err)
		assert.Equal(t, 51820, port)
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("openvpn: port: [broken"), 0600))

		_, err := NewStore(path).Load()
		assert.Error(t, err)
	})
}

func TestConnection(t *testing.T) {
	c := Connection{"server_ip": "203.0.113.5", "port": "70000", "empty": ""}

	assert.Equal(t, []string{"empty", "username"}, c.Missing("server_ip", "username", "empty"))
	assert.Error(t, c.Require("username"))
	assert.NoError(t, c.Require("server_ip"))

	_, err := c.Port("port")
	assert.Error(t, err)

	c.Default("port", "2222")
	c.Default("username", "tunnel")
	assert.Equal(t, "70000", c.Get("port"))
	assert.Equal(t, "tunnel", c.Get("username"))

	clone := c.Clone()
	clone["server_ip"] = "changed"
	assert.Equal(t, "203.0.113.5", c.Get("server_ip"))
}

func TestParseTarget(t *testing.T) {
	for _, name := range []string{"tor-ssh", "reverse-ssh", "OpenVPN", " wireguard "} {
		_, err := ParseTarget(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseTarget("ipsec")
	assert.Error(t, err)

	assert.True(t, TorSSH.Tunneled())
	assert.True(t, ReverseSSH.Tunneled())
	assert.False(t, OpenVPN.Tunneled())
	for _, target := range Targets {
		assert.NotEmpty(t, target.Fields(), target)
	}
}

func TestLoadRoot(t *testing.T) {
	t.Run("environment then overrides", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("JUMPWIRE_HOME", home)
		t.Setenv("JUMPWIRE_ARTIFACT_DIR", "")
		t.Setenv("JUMPWIRE_DB", "")
		t.Setenv("JUMPWIRE_DRY_RUN", "true")
		t.Setenv("JUMPWIRE_VERBOSE", "")

		verbose := true
		r, err := LoadRoot(Overrides{ArtifactDir: "/tmp/out", Verbose: &verbose})
		require.NoError(t, err)

		assert.Equal(t, home, r.Home())
		assert.Equal(t, "/tmp/out", r.ArtifactDir())
		assert.Equal(t, filepath.Join(home, "ledger.db"), r.LedgerDSN())
		assert.True(t, r.DryRun())
		assert.True(t, r.Verbose())
		assert.Equal(t, filepath.Join(home, "config.yaml"), r.ConfigFile())
		assert.Equal(t, filepath.Join(home, "reverse-ssh.pid"), r.PIDFile(ReverseSSH))
	})

	t.Run("invalid boolean", func(t *testing.T) {
		t.Setenv("JUMPWIRE_HOME", t.TempDir())
		t.Setenv("JUMPWIRE_DRY_RUN", "maybe")

		_, err := LoadRoot(Overrides{})
		assert.Error(t, err)
	})
}
