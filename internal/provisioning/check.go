package provisioning

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ExitIPService answers with the caller's public address.
const ExitIPService = "https://icanhazip.com"

// ExitIP fetches the public address seen through the SOCKS proxy on
// localhost:socksPort. DNS is resolved by the proxy.
func ExitIP(ctx context.Context, r Runner, socksPort string) (string, error) {
	out, err := r.Run(ctx, Command{
		Name: "curl",
		Args: []string{"--silent", "--show-error", "--max-time", "30",
			"--socks5-hostname", "localhost:" + socksPort, ExitIPService},
	})
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(out))
	if ip == "" {
		return "", errors.New("empty answer from " + ExitIPService)
	}
	return ip, nil
}

// Reachable opens and closes a TCP connection to host:port.
func Reachable(ctx context.Context, host, port string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return errors.Wrapf(err, "%s is not reachable", net.JoinHostPort(host, port))
	}
	return conn.Close()
}
