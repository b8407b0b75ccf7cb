package provisioning

import (
	"context"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/render"
	"github.com/skoret/jumpwire/internal/wireguard"
	cfgs "github.com/skoret/jumpwire/internal/wireguard/configs"
)

const (
	wireGuardArtifact = "setup_jumpbox_wireguard.sh"
	keepalive         = 25
)

var validInterface = regexp.MustCompile(`^[A-Za-z0-9_=+.-]{1,15}$`)

type wireGuard struct {
	Deps
}

func (p *wireGuard) Target() config.Target { return config.WireGuard }

func (p *wireGuard) Prepare(conn config.Connection) error {
	conn.Default("port", "51820")
	conn.Default("interface", "wg0")
	conn.Default("server_address", "10.0.0.1/24")
	conn.Default("client_address", "10.0.0.2/24")
	conn.Default("dns", "8.8.8.8")
	conn.Default("allowed_ips", "0.0.0.0/0")
	if err := conn.Require("server_ip"); err != nil {
		return err
	}
	if err := checkPorts(conn, "port"); err != nil {
		return err
	}
	if err := checkHost("server_ip", conn.Get("server_ip")); err != nil {
		return err
	}
	if !validInterface.MatchString(conn.Get("interface")) {
		return errors.Errorf("field %q: invalid interface name %q", "interface", conn.Get("interface"))
	}
	for _, k := range []string{"server_address", "client_address"} {
		if _, _, err := net.ParseCIDR(conn.Get(k)); err != nil {
			return errors.Wrapf(err, "field %q", k)
		}
	}
	return nil
}

// WireGuardUnit is the wg-quick service of iface.
func WireGuardUnit(iface string) string {
	return "wg-quick@" + iface
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// hostRoute is the single-address prefix of the address in cidr.
func hostRoute(cidr string) (string, error) {
	ip, _, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", err
	}
	if ip.To4() != nil {
		return ip.String() + "/32", nil
	}
	return ip.String() + "/128", nil
}

func (p *wireGuard) Setup(ctx context.Context, conn config.Connection, _ Options) (*Result, error) {
	d := p.Driver
	iface := conn.Get("interface")
	port, err := conn.Port("port")
	if err != nil {
		return nil, err
	}
	peer, err := hostRoute(conn.Get("client_address"))
	if err != nil {
		return nil, err
	}

	server, err := wireguard.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	client, err := wireguard.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	serverReader, err := cfgs.ProcessServerConfig(cfgs.ServerConfig{
		PrivateKey:     server.Private.String(),
		Address:        conn.Get("server_address"),
		ListenPort:     port,
		PeerPublicKey:  client.Public.String(),
		PeerAllowedIPs: []string{peer},
	})
	if err != nil {
		return nil, err
	}
	serverConf, err := io.ReadAll(serverReader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server config")
	}
	clientReader, err := cfgs.ProcessClientConfig(cfgs.ClientConfig{
		Address:             conn.Get("client_address"),
		PrivateKey:          client.Private.String(),
		DNS:                 splitList(conn.Get("dns")),
		PublicKey:           server.Public.String(),
		AllowedIPs:          splitList(conn.Get("allowed_ips")),
		Endpoint:            net.JoinHostPort(conn.Get("server_ip"), conn.Get("port")),
		PersistentKeepalive: keepalive,
	})
	if err != nil {
		return nil, err
	}
	clientConf, err := io.ReadAll(clientReader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read client config")
	}

	unit := WireGuardUnit(iface)
	if err := d.Apply(ctx,
		d.OpenPort(port, "udp"),
		d.WriteFile(p.sys("/etc/wireguard/"+iface+".conf"), serverConf, 0600),
		d.Systemctl("enable", unit),
		d.Systemctl("restart", unit),
	); err != nil {
		return nil, err
	}

	script, err := render.Render(render.WireGuardBootstrap, render.Values{
		"server_ip":     conn.Get("server_ip"),
		"interface":     iface,
		"client_config": string(clientConf),
	})
	if err != nil {
		return nil, err
	}
	path, err := p.Packager.Package(ctx, string(config.WireGuard), wireGuardArtifact, script)
	if err != nil {
		return nil, err
	}
	qr, err := wireguard.EncodeQR(clientConf)
	if err != nil {
		return nil, err
	}
	qrPath, err := p.Packager.Attach(ctx, string(config.WireGuard), "jumpbox_"+iface+".png", qr)
	if err != nil {
		return nil, err
	}

	return &Result{
		Target:    config.WireGuard,
		Artifacts: []string{path, qrPath},
		Instructions: []string{
			"Copy the bootstrap script to the jump box and run it as root:",
			"  " + transferHint(path),
			"Or scan " + qrPath + " with a WireGuard mobile client.",
			"Both files contain the client private key: delete them after use.",
		},
	}, nil
}
