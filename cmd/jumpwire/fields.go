package main

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/console"
)

// fieldFlag maps a setup flag to a connection field.
type fieldFlag struct {
	flag  string
	key   string
	usage string
}

var fieldFlags = []fieldFlag{
	{"server-ip", "server_ip", "peer address: the jump box for tor-ssh, the central server otherwise"},
	{"port", "port", "service port; the tunnel port on the central server for reverse-ssh"},
	{"user", "username", "SSH account: on the jump box for tor-ssh, on the central server for reverse-ssh"},
	{"ssh-port", "ssh_port", "central server SSH port (reverse-ssh)"},
	{"key-path", "key_path", "SSH private key"},
	{"jump-user", "jump_user", "jump box account running the reverse tunnel (reverse-ssh)"},
	{"authorized-keys", "authorized_keys", "authorized_keys file receiving the tunnel key (reverse-ssh)"},
	{"socks-port", "socks_port", "local SOCKS port (tor-ssh)"},
	{"proto", "proto", "udp or tcp (openvpn)"},
	{"client-name", "client_name", "jump box certificate name (openvpn)"},
	{"easyrsa-dir", "easyrsa_dir", "easy-rsa directory (openvpn)"},
	{"network", "network", "VPN network (openvpn)"},
	{"netmask", "netmask", "VPN netmask (openvpn)"},
	{"interface", "interface", "interface name (wireguard)"},
	{"dns", "dns", "DNS servers for the jump box, comma separated (wireguard)"},
	{"server-address", "server_address", "server tunnel address in CIDR form (wireguard)"},
	{"client-address", "client_address", "jump box tunnel address in CIDR form (wireguard)"},
	{"allowed-ips", "allowed_ips", "prefixes routed through the tunnel (wireguard)"},
}

// advanced are the fields of a target that are never prompted for.
var advanced = map[config.Target][]string{
	config.ReverseSSH: {"authorized_keys"},
	config.OpenVPN:    {"easyrsa_dir", "network", "netmask"},
	config.WireGuard:  {"server_address", "client_address", "allowed_ips"},
}

func addFieldFlags(fs *pflag.FlagSet) {
	for _, f := range fieldFlags {
		fs.String(f.flag, "", f.usage)
	}
}

// accepts reports whether key is a field of t.
func accepts(t config.Target, key string) bool {
	for _, f := range t.Fields() {
		if f.Key == key {
			return true
		}
	}
	for _, k := range advanced[t] {
		if k == key {
			return true
		}
	}
	return false
}

// connectionFromFlags returns the fields of t set on the command line.
// Flags that do not apply to t are reported in ignored.
func connectionFromFlags(fs *pflag.FlagSet, t config.Target) (conn config.Connection, ignored []string) {
	conn = config.Connection{}
	for _, f := range fieldFlags {
		if !fs.Changed(f.flag) {
			continue
		}
		v, _ := fs.GetString(f.flag)
		if !accepts(t, f.key) {
			ignored = append(ignored, "--"+f.flag)
			continue
		}
		conn[f.key] = strings.TrimSpace(v)
	}
	return conn, ignored
}

// completeConnection fills the fields missing from conn. Previous values
// serve as defaults. Without a terminal, defaults are taken silently and
// missing required fields are an error naming their flags.
func completeConnection(t config.Target, conn, previous config.Connection, p *console.Prompter) error {
	var missing []string
	for _, f := range t.Fields() {
		if conn.Get(f.Key) != "" {
			continue
		}
		def := f.Default
		if v := previous.Get(f.Key); v != "" {
			def = v
		}
		if !p.Interactive {
			if def != "" {
				conn[f.Key] = def
			} else if f.Required {
				missing = append(missing, "--"+f.Flag)
			}
			continue
		}
		var (
			v   string
			err error
		)
		if f.Required {
			v, err = p.Prompt(f.Prompt, def)
		} else {
			v, err = p.Ask(f.Prompt, def)
		}
		if err != nil {
			return err
		}
		if v != "" {
			conn[f.Key] = v
		}
	}
	for _, k := range advanced[t] {
		if conn.Get(k) == "" && previous.Get(k) != "" {
			conn[k] = previous.Get(k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("missing required flags for %s: %s", t, strings.Join(missing, ", "))
	}
	return nil
}
