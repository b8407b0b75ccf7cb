package provisioning

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/render"
)

const (
	torSSHArtifact = "setup_jumpbox_tor_ssh.sh"
	torSSHKeyName  = "tor_ssh_key"
)

type torSSH struct {
	Deps
}

func (p *torSSH) Target() config.Target { return config.TorSSH }

func (p *torSSH) Prepare(conn config.Connection) error {
	conn.Default("port", "22")
	conn.Default("socks_port", "1080")
	if err := conn.Require("server_ip", "username"); err != nil {
		return err
	}
	if err := checkPorts(conn, "port", "socks_port"); err != nil {
		return err
	}
	if err := checkHost("server_ip", conn.Get("server_ip")); err != nil {
		return err
	}
	return checkUser("username", conn.Get("username"))
}

func (p *torSSH) Setup(ctx context.Context, conn config.Connection, opts Options) (*Result, error) {
	if opts.Remote {
		if err := p.prepareRemote(ctx, conn); err != nil {
			return nil, err
		}
	}

	script, err := render.Render(render.TorSSHBootstrap, render.Values{
		"socks_port": conn.Get("socks_port"),
	})
	if err != nil {
		return nil, err
	}
	path, err := p.Packager.Package(ctx, string(config.TorSSH), torSSHArtifact, script)
	if err != nil {
		return nil, err
	}

	res := &Result{Target: config.TorSSH, Artifacts: []string{path}}
	if opts.Remote {
		res.Instructions = append(res.Instructions,
			fmt.Sprintf("Tor was installed on %s over SSH.", conn.Get("server_ip")))
	} else {
		res.Instructions = append(res.Instructions,
			"Copy the bootstrap script to the jump box and run it as root:",
			"  "+transferHint(path))
	}
	res.Instructions = append(res.Instructions,
		"Then run 'jumpwire start --method tor-ssh' and use the SOCKS proxy localhost:"+conn.Get("socks_port")+".")
	return res, nil
}

// prepareRemote authorizes the client key for username on the jump box,
// generating the key first when none exists, then installs and starts tor
// there over SSH. The key path is stored in conn for the tunnel to use.
func (p *torSSH) prepareRemote(ctx context.Context, conn config.Connection) error {
	port, err := conn.Port("port")
	if err != nil {
		return err
	}
	keyPath := conn.Get("key_path")
	if keyPath == "" {
		keyPath = filepath.Join(p.Root.Home(), torSSHKeyName)
	}
	key, err := LoadOrGenerateTunnelKey(keyPath)
	if err != nil {
		return err
	}

	cfg := SSHConfig{
		Host: conn.Get("server_ip"),
		Port: port,
		User: conn.Get("username"),
		Sudo: conn.Get("username") != "root",
	}
	if key.Generated {
		if err := p.Driver.Apply(ctx, keySteps(p.Driver, keyPath, key)...); err != nil {
			return err
		}
	} else {
		cfg.KeyPath = keyPath
	}

	var runner RemoteRunner
	if p.Driver.DryRun() {
		log.Printf("dry-run: not connecting to %s", cfg.Addr())
		runner = nopCloser{NewDryRunRunner()}
	} else {
		if runner, err = p.Dial(cfg); err != nil {
			return err
		}
	}
	defer runner.Close()

	remote := NewDriver(runner, p.Driver.DryRun())
	remote.Progress = p.Driver.Progress
	remote.Warn = p.Driver.Warn
	steps := []Step{remote.AuthorizeKey(key.Authorized)}
	steps = append(steps, remote.Install("tor")...)
	steps = append(steps,
		remote.Systemctl("enable", "tor"),
		remote.Systemctl("start", "tor"),
	)
	if err := remote.Apply(ctx, steps...); err != nil {
		return err
	}
	conn["key_path"] = keyPath
	return nil
}

type nopCloser struct {
	Runner
}

func (nopCloser) Close() error { return nil }
