package configs

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/render"
)

// ServerConfig is the central server side of a single-peer tunnel.
type ServerConfig struct {
	PrivateKey     string
	Address        string
	ListenPort     int
	PeerPublicKey  string
	PeerAllowedIPs []string
}

// ClientConfig is the jump box side of the tunnel.
type ClientConfig struct {
	Address             string
	PrivateKey          string
	DNS                 []string
	PublicKey           string
	AllowedIPs          []string
	Endpoint            string
	PersistentKeepalive int
}

// Values returns the substitution record for the server template.
func (c ServerConfig) Values() render.Values {
	v := render.Values{
		"server_private_key": c.PrivateKey,
		"server_address":     c.Address,
		"client_public_key":  c.PeerPublicKey,
		"client_allowed_ip":  strings.Join(c.PeerAllowedIPs, ", "),
	}
	if c.ListenPort > 0 {
		v["port"] = strconv.Itoa(c.ListenPort)
	}
	return v
}

// Values returns the substitution record for the client template.
func (c ClientConfig) Values() render.Values {
	v := render.Values{
		"client_private_key": c.PrivateKey,
		"client_address":     c.Address,
		"dns":                strings.Join(c.DNS, ", "),
		"server_public_key":  c.PublicKey,
		"endpoint":           c.Endpoint,
		"allowed_ips":        strings.Join(c.AllowedIPs, ", "),
	}
	if c.PersistentKeepalive > 0 {
		v["keepalive"] = strconv.Itoa(c.PersistentKeepalive)
	}
	return v
}

// ProcessServerConfig renders cfg as a wg-quick configuration file.
func ProcessServerConfig(cfg ServerConfig) (io.Reader, error) {
	out, err := render.Render(render.WireGuardServer, cfg.Values())
	if err != nil {
		return nil, errors.Wrap(err, "failed to render server config")
	}
	return bytes.NewReader(out), nil
}

// ProcessClientConfig renders cfg as a wg-quick configuration file.
func ProcessClientConfig(cfg ClientConfig) (io.Reader, error) {
	out, err := render.Render(render.WireGuardClient, cfg.Values())
	if err != nil {
		return nil, errors.Wrap(err, "failed to render client config")
	}
	return bytes.NewReader(out), nil
}
