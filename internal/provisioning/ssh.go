package provisioning

import (
	"bytes"
	"context"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/skoret/jumpwire/internal/render"
)

const sshDialTimeout = 15 * time.Second

// SSHConfig contains SSH connection configuration
type SSHConfig struct {
	Host string
	Port int
	User string
	// KeyPath is the private key to authenticate with. When empty the SSH
	// agent and the default keys in ~/.ssh are tried.
	KeyPath string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// Sudo runs every command through sudo -n.
	Sudo bool
}

// Addr is the host:port to dial.
func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHRunner runs commands on a remote host over one SSH connection.
type SSHRunner struct {
	config SSHConfig
	client *ssh.Client
}

// DialSSH connects to cfg.Addr. The host key must already be in the
// known hosts file.
func DialSSH(cfg SSHConfig) (RemoteRunner, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve home directory")
	}
	if cfg.KnownHosts == "" {
		cfg.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeyCallback, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known hosts from %s", cfg.KnownHosts)
	}

	auth, err := authMethods(cfg.KeyPath, home)
	if err != nil {
		return nil, err
	}

	log.Printf("connecting to %s@%s", cfg.User, cfg.Addr())
	client, err := ssh.Dial("tcp", cfg.Addr(), &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         sshDialTimeout,
	})
	if err != nil {
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return nil, errors.Errorf("host key of %s is unknown; connect once with ssh -p %d %s@%s to verify it",
				cfg.Addr(), cfg.Port, cfg.User, cfg.Host)
		}
		return nil, errors.Wrapf(err, "failed to connect to SSH server %s", cfg.Addr())
	}
	return &SSHRunner{config: cfg, client: client}, nil
}

func authMethods(keyPath, home string) ([]ssh.AuthMethod, error) {
	if keyPath != "" {
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			log.Printf("ssh agent unavailable: %v", err)
		}
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		signer, err := loadSigner(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH key available: set key_path or start an SSH agent")
	}
	return methods, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read SSH key from %s", path)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse SSH private key %s", path)
	}
	return signer, nil
}

// RemoteCommandLine builds the shell command line the remote side runs for
// c. Every word is quoted; control characters are rejected.
func RemoteCommandLine(c Command, sudo bool) (string, error) {
	words := []string{c.Name}
	words = append(words, c.Args...)
	words = append(words, c.Env...)
	words = append(words, c.Dir)
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsControl) >= 0 {
			return "", errors.Errorf("refusing to send control characters in %q", w)
		}
	}

	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd " + render.ShellQuote(c.Dir) + " && ")
	}
	if sudo {
		b.WriteString("sudo -n ")
	}
	if len(c.Env) > 0 {
		b.WriteString("env ")
		for _, e := range c.Env {
			b.WriteString(render.ShellQuote(e) + " ")
		}
	}
	b.WriteString(render.ShellQuote(c.Name))
	for _, a := range c.Args {
		b.WriteString(" " + render.ShellQuote(a))
	}
	return b.String(), nil
}

// Run executes c on the remote host. The context cancels the session.
func (r *SSHRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	line, err := RemoteCommandLine(c, r.config.Sudo && !c.Unprivileged)
	if err != nil {
		return nil, err
	}
	session, err := r.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SSH session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if c.Stdin != nil {
		session.Stdin = bytes.NewReader(c.Stdin)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGTERM)
			session.Close()
		case <-done:
		}
	}()

	log.Printf("running on %s: %s", r.config.Addr(), line)
	if err := session.Run(line); err != nil {
		code := -1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitStatus()
		}
		return stdout.Bytes(), &CommandError{
			Command:  c.String(),
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// LookPath resolves file on the remote PATH.
func (r *SSHRunner) LookPath(file string) (string, error) {
	out, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", `command -v "$1"`, "sh", file}})
	if err != nil {
		return "", errors.Wrapf(err, "%s not found on %s", file, r.config.Host)
	}
	return strings.TrimSpace(string(out)), nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}
