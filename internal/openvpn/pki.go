package openvpn

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// DefaultEasyRSADir is where the easy-rsa scripts are copied to.
const DefaultEasyRSADir = "/etc/openvpn/easy-rsa"

// EasyRSASource is where the easy-rsa package installs its scripts.
const EasyRSASource = "/usr/share/easy-rsa"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Material is the client secret material read back from the PKI.
type Material struct {
	CA   string
	Cert string
	Key  string
}

// PKI describes an easy-rsa directory holding one server and one client
// certificate.
type PKI struct {
	Dir    string
	Server string
	Client string
}

// NewPKI returns the PKI layout rooted at dir.
func NewPKI(dir, client string) (*PKI, error) {
	if dir == "" {
		dir = DefaultEasyRSADir
	}
	if !validName.MatchString(client) {
		return nil, errors.Errorf("invalid client name %q", client)
	}
	return &PKI{Dir: dir, Server: "server", Client: client}, nil
}

func (p *PKI) path(elem ...string) string {
	return filepath.Join(append([]string{p.Dir, "pki"}, elem...)...)
}

func (p *PKI) Script() string     { return filepath.Join(p.Dir, "easyrsa") }
func (p *PKI) CA() string         { return p.path("ca.crt") }
func (p *PKI) DH() string         { return p.path("dh.pem") }
func (p *PKI) ServerCert() string { return p.path("issued", p.Server+".crt") }
func (p *PKI) ServerKey() string  { return p.path("private", p.Server+".key") }
func (p *PKI) ClientCert() string { return p.path("issued", p.Client+".crt") }
func (p *PKI) ClientKey() string  { return p.path("private", p.Client+".key") }

// Installed reports whether the easyrsa script is present in Dir.
func (p *PKI) Installed() bool {
	_, err := os.Stat(p.Script())
	return err == nil
}

// Initialized reports whether a CA already exists. An existing PKI is never
// rebuilt: init-pki would wipe issued certificates.
func (p *PKI) Initialized() bool {
	_, err := os.Stat(p.CA())
	return err == nil
}

// BuildArgs returns the easyrsa invocations, in order, that create the CA,
// the server and client certificates and the DH parameters.
func (p *PKI) BuildArgs() [][]string {
	return [][]string{
		{"--batch", "init-pki"},
		{"--batch", "build-ca", "nopass"},
		{"--batch", "gen-req", p.Server, "nopass"},
		{"--batch", "sign-req", "server", p.Server},
		{"--batch", "gen-req", p.Client, "nopass"},
		{"--batch", "sign-req", "client", p.Client},
		{"--batch", "gen-dh"},
	}
}

// LoadClientMaterial reads the CA, client certificate and client key. It
// returns all three or an error.
func (p *PKI) LoadClientMaterial() (Material, error) {
	var m Material
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{p.CA(), &m.CA},
		{p.ClientCert(), &m.Cert},
		{p.ClientKey(), &m.Key},
	} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return Material{}, errors.Wrapf(err, "failed to read %s", f.path)
		}
		if len(data) == 0 {
			return Material{}, errors.Errorf("%s is empty", f.path)
		}
		*f.dst = string(data)
	}
	return m, nil
}
