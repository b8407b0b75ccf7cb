package provisioning

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/render"
)

const (
	reverseSSHArtifact = "setup_jumpbox_reverse_ssh.sh"
	tunnelKeyComment   = "jumpwire-tunnel"
)

type reverseSSH struct {
	Deps
}

func (p *reverseSSH) Target() config.Target { return config.ReverseSSH }

func (p *reverseSSH) Prepare(conn config.Connection) error {
	conn.Default("ssh_port", "22")
	conn.Default("jump_user", "root")
	conn.Default("key_path", p.Root.DefaultKeyPath())
	if err := conn.Require("server_ip", "port", "username"); err != nil {
		return err
	}
	if err := checkPorts(conn, "port", "ssh_port"); err != nil {
		return err
	}
	if err := checkUser("username", conn.Get("username")); err != nil {
		return err
	}
	if err := checkUser("jump_user", conn.Get("jump_user")); err != nil {
		return err
	}
	if err := checkHost("server_ip", conn.Get("server_ip")); err != nil {
		return err
	}
	if k := conn.Get("authorized_keys"); k != "" && !filepath.IsAbs(k) {
		return errors.Errorf("field %q: %q is not an absolute path", "authorized_keys", k)
	}
	return nil
}

// authorizedKeys is the file receiving the tunnel key. Unless set
// explicitly it follows username and is never saved, so a later setup
// with another account does not reuse the old account's file.
func (p *reverseSSH) authorizedKeys(conn config.Connection) string {
	if k := conn.Get("authorized_keys"); k != "" {
		return k
	}
	return p.sys(filepath.Join(homeOf(conn.Get("username")), ".ssh", "authorized_keys"))
}

// jumpKeyPath is where the bootstrap installs the tunnel key on the jump box.
func jumpKeyPath(conn config.Connection) string {
	return filepath.Join(homeOf(conn.Get("jump_user")), ".ssh", "jumpwire_tunnel_key")
}

// TunnelKey is the key pair one end of a tunnel authenticates with.
type TunnelKey struct {
	PrivatePEM []byte
	// Authorized is the public key as an authorized_keys line.
	Authorized []byte
	Generated  bool
}

// LoadOrGenerateTunnelKey reads the OpenSSH private key at path, or
// creates a fresh ed25519 pair when none exists. Nothing is written.
func LoadOrGenerateTunnelKey(path string) (*TunnelKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse existing key %s", path)
		}
		return &TunnelKey{PrivatePEM: data, Authorized: authorizedLine(signer.PublicKey())}, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read key %s", path)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 key")
	}
	block, err := ssh.MarshalPrivateKey(priv, tunnelKeyComment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode private key")
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode public key")
	}
	return &TunnelKey{
		PrivatePEM: pem.EncodeToMemory(block),
		Authorized: authorizedLine(sshPub),
		Generated:  true,
	}, nil
}

// keySteps store a generated key pair at path and path.pub.
func keySteps(d *Driver, path string, key *TunnelKey) []Step {
	return []Step{
		d.MkdirAll(filepath.Dir(path), 0700),
		d.WriteFile(path, key.PrivatePEM, 0600),
		d.WriteFile(path+".pub", key.Authorized, 0644),
	}
}

func authorizedLine(pub ssh.PublicKey) []byte {
	line := bytes.TrimRight(ssh.MarshalAuthorizedKey(pub), "\n")
	return append(line, []byte(" "+tunnelKeyComment+"\n")...)
}

func (p *reverseSSH) Setup(ctx context.Context, conn config.Connection, _ Options) (*Result, error) {
	d := p.Driver
	keyPath := conn.Get("key_path")
	authKeys := p.authorizedKeys(conn)
	user := conn.Get("username")

	key, err := LoadOrGenerateTunnelKey(keyPath)
	if err != nil {
		return nil, err
	}

	var steps []Step
	if key.Generated {
		steps = keySteps(d, keyPath, key)
	}
	steps = append(steps,
		d.MkdirAll(filepath.Dir(authKeys), 0700),
		d.AppendLine(authKeys, key.Authorized, 0600),
		d.Cmd("chown", user+":", filepath.Dir(authKeys), authKeys),
		d.Cmd("chmod", "600", authKeys),
	)
	if err := d.Apply(ctx, steps...); err != nil {
		return nil, err
	}

	unit, err := render.Render(render.ReverseSSHUnit, render.Values{
		"key_path":  jumpKeyPath(conn),
		"server_ip": conn.Get("server_ip"),
		"ssh_port":  conn.Get("ssh_port"),
		"port":      conn.Get("port"),
		"username":  user,
		"jump_user": conn.Get("jump_user"),
	})
	if err != nil {
		return nil, err
	}
	script, err := render.Render(render.ReverseSSHBootstrap, render.Values{
		"server_ip":   conn.Get("server_ip"),
		"port":        conn.Get("port"),
		"username":    user,
		"jump_user":   conn.Get("jump_user"),
		"key_path":    jumpKeyPath(conn),
		"private_key": string(key.PrivatePEM),
		"unit":        string(unit),
	})
	if err != nil {
		return nil, err
	}
	path, err := p.Packager.Package(ctx, string(config.ReverseSSH), reverseSSHArtifact, script)
	if err != nil {
		return nil, err
	}

	return &Result{
		Target:    config.ReverseSSH,
		Artifacts: []string{path},
		Instructions: []string{
			"Copy the bootstrap script to the jump box and run it as root:",
			"  " + transferHint(path),
			fmt.Sprintf("The jump box will then keep port %s on %s forwarded to its SSH server.", conn.Get("port"), conn.Get("server_ip")),
			fmt.Sprintf("Reach it from the central server with: ssh -p %s <jump-box-user>@localhost", conn.Get("port")),
			"The script contains the tunnel private key: delete it after use.",
		},
	}, nil
}
