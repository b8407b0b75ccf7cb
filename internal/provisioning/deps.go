package provisioning

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/openvpn"
)

// Dependency is an external tool a target shells out to.
type Dependency struct {
	Binary  string
	Package string
	// Paths are looked at when Binary is not on PATH.
	Paths []string
}

// Dependencies returns the tools t needs on the central machine.
func Dependencies(t config.Target) []Dependency {
	ssh := Dependency{Binary: "ssh", Package: "openssh-client"}
	autossh := Dependency{Binary: "autossh", Package: "autossh"}
	switch t {
	case config.TorSSH:
		return []Dependency{ssh, autossh, {Binary: "curl", Package: "curl"}}
	case config.ReverseSSH:
		return []Dependency{ssh, autossh}
	case config.OpenVPN:
		return []Dependency{
			{Binary: "openvpn", Package: "openvpn"},
			{Binary: "easyrsa", Package: "easy-rsa", Paths: []string{openvpn.EasyRSASource + "/easyrsa"}},
		}
	case config.WireGuard:
		return []Dependency{{Binary: "wg-quick", Package: "wireguard"}}
	}
	return nil
}

// MissingDependencyError lists the tools that are not installed.
type MissingDependencyError struct {
	Target  config.Target
	Missing []Dependency
}

func (e *MissingDependencyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, d := range e.Missing {
		names[i] = d.Binary
	}
	return fmt.Sprintf("%s requires %s which is not installed; install with: %s",
		e.Target, strings.Join(names, ", "), e.Remediation())
}

// Remediation is the command that installs the missing tools.
func (e *MissingDependencyError) Remediation() string {
	return "sudo apt-get install -y " + strings.Join(packages(e.Missing), " ")
}

func packages(deps []Dependency) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range deps {
		if !seen[d.Package] {
			seen[d.Package] = true
			out = append(out, d.Package)
		}
	}
	return out
}

func (d *Driver) installed(dep Dependency) bool {
	if _, err := d.runner.LookPath(dep.Binary); err == nil {
		return true
	}
	for _, p := range dep.Paths {
		if _, err := d.runner.LookPath(p); err == nil {
			return true
		}
	}
	return false
}

// CheckDependencies verifies every tool t needs. Missing tools abort with
// *MissingDependencyError unless install is set, in which case their
// packages are installed with apt-get.
func (d *Driver) CheckDependencies(ctx context.Context, t config.Target, install bool) error {
	var missing []Dependency
	for _, dep := range Dependencies(t) {
		if !d.installed(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) == 0 {
		log.Printf("all %s dependencies are installed", t)
		return nil
	}
	err := &MissingDependencyError{Target: t, Missing: missing}
	if !install {
		return err
	}
	d.warnf("installing missing packages: %s", strings.Join(packages(missing), " "))
	return d.Apply(ctx, d.Install(packages(missing)...)...)
}
