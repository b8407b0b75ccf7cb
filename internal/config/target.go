package config

import (
	"strings"

	"github.com/pkg/errors"
)

// Target selects which tunnel kind a run provisions. It is fixed for the
// whole invocation.
type Target string

const (
	TorSSH     Target = "tor-ssh"
	ReverseSSH Target = "reverse-ssh"
	OpenVPN    Target = "openvpn"
	WireGuard  Target = "wireguard"
)

// Targets lists every supported target in menu order.
var Targets = []Target{TorSSH, ReverseSSH, OpenVPN, WireGuard}

// ParseTarget parses a --method value.
func ParseTarget(s string) (Target, error) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Targets {
		if t == known {
			return t, nil
		}
	}
	return "", errors.Errorf("unknown method %q (expected one of %s)", s, strings.Join(TargetNames(), ", "))
}

// TargetNames returns the names of all targets.
func TargetNames() []string {
	names := make([]string, len(Targets))
	for i, t := range Targets {
		names[i] = string(t)
	}
	return names
}

func (t Target) String() string {
	return string(t)
}

// Tunneled reports whether the target runs as a background autossh process
// tracked by PID rather than as a system service.
func (t Target) Tunneled() bool {
	return t == TorSSH || t == ReverseSSH
}

// Field describes one named value of a Connection.
type Field struct {
	Key      string
	Flag     string
	Prompt   string
	Default  string
	Required bool
}

// Fields returns the fields collected for t, in prompt order. Defaults that
// depend on other fields are filled in by the provisioner.
func (t Target) Fields() []Field {
	switch t {
	case TorSSH:
		return []Field{
			{Key: "server_ip", Flag: "server-ip", Prompt: "Jump box IP address", Required: true},
			{Key: "username", Flag: "user", Prompt: "Jump box username", Required: true},
			{Key: "port", Flag: "port", Prompt: "Jump box SSH port", Default: "22", Required: true},
			{Key: "socks_port", Flag: "socks-port", Prompt: "Local SOCKS port", Default: "1080", Required: true},
			{Key: "key_path", Flag: "key-path", Prompt: "SSH private key (empty for agent/default)"},
		}
	case ReverseSSH:
		return []Field{
			{Key: "server_ip", Flag: "server-ip", Prompt: "Central server IP address", Required: true},
			{Key: "port", Flag: "port", Prompt: "Reverse tunnel port on the central server", Default: "2222", Required: true},
			{Key: "username", Flag: "user", Prompt: "Central server account owning the tunnel", Required: true},
			{Key: "ssh_port", Flag: "ssh-port", Prompt: "Central server SSH port", Default: "22", Required: true},
			{Key: "key_path", Flag: "key-path", Prompt: "Tunnel key path (empty for default)"},
			{Key: "jump_user", Flag: "jump-user", Prompt: "Jump box account running the tunnel", Default: "root", Required: true},
		}
	case OpenVPN:
		return []Field{
			{Key: "server_ip", Flag: "server-ip", Prompt: "Central server public IP address", Required: true},
			{Key: "port", Flag: "port", Prompt: "OpenVPN port", Default: "1194", Required: true},
			{Key: "proto", Flag: "proto", Prompt: "OpenVPN protocol", Default: "udp", Required: true},
			{Key: "client_name", Flag: "client-name", Prompt: "Jump box certificate name", Default: "jumpbox", Required: true},
		}
	case WireGuard:
		return []Field{
			{Key: "server_ip", Flag: "server-ip", Prompt: "Central server public IP address", Required: true},
			{Key: "port", Flag: "port", Prompt: "WireGuard port", Default: "51820", Required: true},
			{Key: "interface", Flag: "interface", Prompt: "WireGuard interface", Default: "wg0", Required: true},
			{Key: "dns", Flag: "dns", Prompt: "DNS server for the jump box", Default: "8.8.8.8", Required: true},
		}
	}
	return nil
}
