package render

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ID names one template. Each target maps to a fixed set of IDs.
type ID string

const (
	WireGuardServer     ID = "wireguard-server.conf"
	WireGuardClient     ID = "wireguard-client.conf"
	OpenVPNServer       ID = "openvpn-server.conf"
	OpenVPNClient       ID = "openvpn-client.ovpn"
	ReverseSSHUnit      ID = "reverse-ssh.service"
	TorSSHBootstrap     ID = "bootstrap-tor-ssh.sh"
	ReverseSSHBootstrap ID = "bootstrap-reverse-ssh.sh"
	OpenVPNBootstrap    ID = "bootstrap-openvpn.sh"
	WireGuardBootstrap  ID = "bootstrap-wireguard.sh"
)

// required lists the fields a template cannot render without. Fields a
// template reads with index are optional.
var required = map[ID][]string{
	WireGuardServer: {"server_private_key", "server_address", "port", "client_public_key", "client_allowed_ip"},
	WireGuardClient: {"client_private_key", "client_address", "dns", "server_public_key", "endpoint", "allowed_ips"},
	OpenVPNServer:   {"port", "proto", "ca_path", "cert_path", "key_path", "dh_path", "network", "netmask"},
	OpenVPNClient:   {"server_ip", "port", "proto", "ca_cert", "client_cert", "client_key"},
	ReverseSSHUnit:  {"key_path", "server_ip", "ssh_port", "port", "username", "jump_user"},

	TorSSHBootstrap:     {"socks_port"},
	ReverseSSHBootstrap: {"server_ip", "port", "username", "jump_user", "key_path", "private_key", "unit"},
	OpenVPNBootstrap:    {"server_ip", "client_name", "client_config"},
	WireGuardBootstrap:  {"server_ip", "interface", "client_config"},
}

// Values is the substitution record handed to a template.
type Values map[string]string

// MissingFieldError reports a required field that was absent or empty.
type MissingFieldError struct {
	Template ID
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("template %s: missing required field %q", e.Template, e.Field)
}

var templates = template.Must(
	template.New("jumpwire").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"quote": ShellQuote,
			"pem":   pem,
		}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// pem terminates s with exactly the newline it already has, or adds one,
// so a closing tag written after it starts on its own line.
func pem(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// Required returns the required fields of id.
func Required(id ID) []string {
	return append([]string(nil), required[id]...)
}

// Render substitutes v into the template id. It has no side effects: output
// depends only on id and v, and nothing is written to disk. Generation is
// all-or-nothing; a missing required field yields *MissingFieldError and no
// output.
func Render(id ID, v Values) ([]byte, error) {
	fields, ok := required[id]
	if !ok {
		return nil, errors.Errorf("unknown template %q", id)
	}
	for _, f := range fields {
		if v[f] == "" {
			return nil, &MissingFieldError{Template: id, Field: f}
		}
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(id)+".tmpl", map[string]string(v)); err != nil {
		return nil, errors.Wrapf(err, "failed to render %s", id)
	}
	return buf.Bytes(), nil
}
