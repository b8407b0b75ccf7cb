package provisioning

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/artifact"
	"github.com/skoret/jumpwire/internal/config"
)

// Options tune a setup run.
type Options struct {
	// Install installs missing dependencies instead of aborting.
	Install bool
	// Remote prepares the jump box over SSH where the target supports it.
	Remote bool
}

// Result is what a successful setup produced.
type Result struct {
	Target       config.Target
	Artifacts    []string
	Instructions []string
}

// Provisioner sets up the central side of one target and packages the
// jump box half as a bootstrap artifact.
type Provisioner interface {
	Target() config.Target
	// Prepare fills derived defaults into conn and validates it.
	Prepare(conn config.Connection) error
	// Setup applies the central side and packages the artifacts. conn must
	// have been prepared.
	Setup(ctx context.Context, conn config.Connection, opts Options) (*Result, error)
}

// RemoteRunner is a Runner bound to a connection that must be closed.
type RemoteRunner interface {
	Runner
	io.Closer
}

// RemoteDialer opens a RemoteRunner.
type RemoteDialer func(cfg SSHConfig) (RemoteRunner, error)

// Deps are the collaborators every provisioner is built from.
type Deps struct {
	Root     *config.Root
	Driver   *Driver
	Packager *artifact.Packager
	// Dial defaults to DialSSH.
	Dial RemoteDialer
	// SysRoot prefixes the system paths files are written to. Empty in
	// production.
	SysRoot string
}

func (d Deps) sys(path string) string {
	if d.SysRoot == "" {
		return path
	}
	return filepath.Join(d.SysRoot, path)
}

// New returns the provisioner for t.
func New(t config.Target, deps Deps) (Provisioner, error) {
	if deps.Root == nil || deps.Driver == nil || deps.Packager == nil {
		return nil, errors.New("provisioner requires root, driver and packager")
	}
	if deps.Dial == nil {
		deps.Dial = DialSSH
	}
	switch t {
	case config.TorSSH:
		return &torSSH{deps}, nil
	case config.ReverseSSH:
		return &reverseSSH{deps}, nil
	case config.OpenVPN:
		return &openVPN{deps}, nil
	case config.WireGuard:
		return &wireGuard{deps}, nil
	}
	return nil, errors.Errorf("unknown target %q", t)
}

// Setup runs the complete setup of p: validation, dependency checks, the
// provisioning plan and packaging. The connection is saved to store only
// once all of it succeeded.
func Setup(ctx context.Context, p Provisioner, d *Driver, store *config.Store, conn config.Connection, opts Options) (*Result, error) {
	conn = conn.Clone()
	if err := p.Prepare(conn); err != nil {
		return nil, errors.Wrapf(err, "invalid %s configuration", p.Target())
	}
	if err := d.CheckDependencies(ctx, p.Target(), opts.Install); err != nil {
		return nil, err
	}
	res, err := p.Setup(ctx, conn, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "%s setup failed", p.Target())
	}
	if d.DryRun() {
		log.Printf("dry-run: %s configuration not saved", p.Target())
		return res, nil
	}
	if err := store.Put(p.Target(), conn); err != nil {
		return nil, err
	}
	return res, nil
}

var validUser = regexp.MustCompile(`^[a-z_][a-z0-9_.-]*[$]?$`)

func checkUser(field, name string) error {
	if !validUser.MatchString(name) || len(name) > 32 {
		return errors.Errorf("field %q: invalid account name %q", field, name)
	}
	return nil
}

var validHostname = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*\.?$`)

// checkHost accepts an IP address or an RFC 1123 host name.
func checkHost(field, host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 || !validHostname.MatchString(host) {
		return errors.Errorf("field %q: %q is not an IP address or host name", field, host)
	}
	return nil
}

func checkPorts(conn config.Connection, keys ...string) error {
	for _, k := range keys {
		if _, err := conn.Port(k); err != nil {
			return err
		}
	}
	return nil
}

// homeOf is the conventional home directory of account user.
func homeOf(user string) string {
	if user == "root" {
		return "/root"
	}
	return filepath.Join("/home", user)
}

func transferHint(path string) string {
	name := filepath.Base(path)
	return fmt.Sprintf("scp %s <user>@<jump-box>:~ && ssh <user>@<jump-box> 'sudo bash ~/%s'", path, name)
}
