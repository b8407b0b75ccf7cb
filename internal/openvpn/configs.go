package openvpn

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/render"
)

// ServerConfig is the central server configuration. Key material is
// referenced by path.
type ServerConfig struct {
	Port     int
	Proto    string
	CAPath   string
	CertPath string
	KeyPath  string
	DHPath   string
	Network  string
	Netmask  string
}

// Render renders the server configuration file.
func (c ServerConfig) Render() ([]byte, error) {
	v := render.Values{
		"proto":     c.Proto,
		"ca_path":   c.CAPath,
		"cert_path": c.CertPath,
		"key_path":  c.KeyPath,
		"dh_path":   c.DHPath,
		"network":   c.Network,
		"netmask":   c.Netmask,
	}
	if c.Port > 0 {
		v["port"] = strconv.Itoa(c.Port)
	}
	out, err := render.Render(render.OpenVPNServer, v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render openvpn server config")
	}
	return out, nil
}

// ClientProfile is a self-contained client configuration with the CA,
// certificate and key inlined as PEM blocks.
type ClientProfile struct {
	Remote   string
	Port     int
	Proto    string
	Material Material
}

// Render renders the inline client profile. PEM text is copied verbatim.
func (p ClientProfile) Render() ([]byte, error) {
	v := render.Values{
		"server_ip":   p.Remote,
		"proto":       p.Proto,
		"ca_cert":     p.Material.CA,
		"client_cert": p.Material.Cert,
		"client_key":  p.Material.Key,
	}
	if p.Port > 0 {
		v["port"] = strconv.Itoa(p.Port)
	}
	out, err := render.Render(render.OpenVPNClient, v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render openvpn client profile")
	}
	return out, nil
}
