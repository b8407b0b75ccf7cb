package provisioning

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/openvpn"
	"github.com/skoret/jumpwire/internal/render"
)

const (
	openVPNArtifact     = "setup_jumpbox_openvpn.sh"
	openVPNServerConfig = "/etc/openvpn/server/server.conf"
	openVPNServerUnit   = "openvpn-server@server"
	forwardingConfig    = "/etc/sysctl.d/99-jumpwire.conf"
)

type openVPN struct {
	Deps
}

func (p *openVPN) Target() config.Target { return config.OpenVPN }

func (p *openVPN) Prepare(conn config.Connection) error {
	conn.Default("port", "1194")
	conn.Default("proto", "udp")
	conn.Default("easyrsa_dir", openvpn.DefaultEasyRSADir)
	conn.Default("network", "10.8.0.0")
	conn.Default("netmask", "255.255.255.0")
	conn.Default("client_name", "jumpbox")
	if err := conn.Require("server_ip"); err != nil {
		return err
	}
	if err := checkPorts(conn, "port"); err != nil {
		return err
	}
	if err := checkHost("server_ip", conn.Get("server_ip")); err != nil {
		return err
	}
	if proto := conn.Get("proto"); proto != "udp" && proto != "tcp" {
		return errors.Errorf("field %q: expected udp or tcp, got %q", "proto", proto)
	}
	for _, k := range []string{"network", "netmask"} {
		if ip := net.ParseIP(conn.Get(k)); ip == nil || ip.To4() == nil {
			return errors.Errorf("field %q: invalid IPv4 address %q", k, conn.Get(k))
		}
	}
	_, err := openvpn.NewPKI(conn.Get("easyrsa_dir"), conn.Get("client_name"))
	return err
}

func (p *openVPN) Setup(ctx context.Context, conn config.Connection, _ Options) (*Result, error) {
	d := p.Driver
	pki, err := openvpn.NewPKI(conn.Get("easyrsa_dir"), conn.Get("client_name"))
	if err != nil {
		return nil, err
	}
	port, err := conn.Port("port")
	if err != nil {
		return nil, err
	}
	proto := conn.Get("proto")

	serverConf, err := openvpn.ServerConfig{
		Port:     port,
		Proto:    proto,
		CAPath:   pki.CA(),
		CertPath: pki.ServerCert(),
		KeyPath:  pki.ServerKey(),
		DHPath:   pki.DH(),
		Network:  conn.Get("network"),
		Netmask:  conn.Get("netmask"),
	}.Render()
	if err != nil {
		return nil, err
	}

	steps := []Step{d.OpenPort(port, proto)}
	if !pki.Installed() {
		steps = append(steps,
			d.MkdirAll(pki.Dir, 0700),
			d.Cmd("cp", "-r", openvpn.EasyRSASource+"/.", pki.Dir),
		)
	}
	if pki.Initialized() {
		d.warnf("reusing the existing PKI in %s", pki.Dir)
	} else {
		for _, args := range pki.BuildArgs() {
			steps = append(steps, d.Exec(Command{Name: pki.Script(), Args: args, Dir: pki.Dir}))
		}
	}

	var material openvpn.Material
	steps = append(steps,
		d.WriteFile(p.sys(openVPNServerConfig), serverConf, 0600),
		d.Sysctl("net.ipv4.ip_forward", "1"),
		d.WriteFile(p.sys(forwardingConfig), []byte("net.ipv4.ip_forward = 1\n"), 0644),
		d.Systemctl("enable", openVPNServerUnit),
		d.Systemctl("restart", openVPNServerUnit),
		Func("load client certificate material", func(context.Context) error {
			m, err := pki.LoadClientMaterial()
			if err != nil && d.DryRun() {
				d.warnf("dry run: client certificates do not exist, the profile uses placeholders")
				material = openvpn.Material{CA: "<ca_cert>\n", Cert: "<client_cert>\n", Key: "<client_key>\n"}
				return nil
			}
			material = m
			return err
		}),
	)
	if err := d.Apply(ctx, steps...); err != nil {
		return nil, err
	}

	profile, err := openvpn.ClientProfile{
		Remote:   conn.Get("server_ip"),
		Port:     port,
		Proto:    proto,
		Material: material,
	}.Render()
	if err != nil {
		return nil, err
	}
	script, err := render.Render(render.OpenVPNBootstrap, render.Values{
		"server_ip":     conn.Get("server_ip"),
		"client_name":   pki.Client,
		"client_config": string(profile),
	})
	if err != nil {
		return nil, err
	}
	path, err := p.Packager.Package(ctx, string(config.OpenVPN), openVPNArtifact, script)
	if err != nil {
		return nil, err
	}

	return &Result{
		Target:    config.OpenVPN,
		Artifacts: []string{path},
		Instructions: []string{
			"Copy the bootstrap script to the jump box and run it as root:",
			"  " + transferHint(path),
			"The script contains the client private key: delete it after use.",
		},
	}, nil
}
