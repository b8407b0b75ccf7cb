package lifecycle

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/config"
)

// TorSOCKSPort is where tor listens on the jump box.
const TorSOCKSPort = 9050

var keepaliveOptions = []string{
	"-M", "0", "-N",
	"-o", "ServerAliveInterval=60",
	"-o", "ServerAliveCountMax=3",
	"-o", "ExitOnForwardFailure=yes",
}

// TunnelCommand returns the autossh command line that keeps the tunnel of
// t open.
func TunnelCommand(t config.Target, conn config.Connection) ([]string, error) {
	for _, k := range []string{"server_ip", "username", "key_path"} {
		if strings.HasPrefix(conn.Get(k), "-") {
			return nil, errors.Errorf("field %q must not start with '-'", k)
		}
	}
	if err := conn.Require("server_ip", "username"); err != nil {
		return nil, err
	}
	dest := conn.Get("username") + "@" + conn.Get("server_ip")
	argv := append([]string{"autossh"}, keepaliveOptions...)

	switch t {
	case config.ReverseSSH:
		if err := conn.Require("key_path"); err != nil {
			return nil, err
		}
		tunnel, err := conn.Port("port")
		if err != nil {
			return nil, err
		}
		sshPort := 22
		if conn.Get("ssh_port") != "" {
			if sshPort, err = conn.Port("ssh_port"); err != nil {
				return nil, err
			}
		}
		return append(argv,
			"-i", conn.Get("key_path"),
			"-p", strconv.Itoa(sshPort),
			"-R", strconv.Itoa(tunnel)+":localhost:22",
			dest,
		), nil

	case config.TorSSH:
		port := 22
		if conn.Get("port") != "" {
			var err error
			if port, err = conn.Port("port"); err != nil {
				return nil, err
			}
		}
		socks, err := conn.Port("socks_port")
		if err != nil {
			return nil, err
		}
		if key := conn.Get("key_path"); key != "" {
			argv = append(argv, "-i", key)
		}
		return append(argv,
			"-p", strconv.Itoa(port),
			"-L", strconv.Itoa(socks)+":localhost:"+strconv.Itoa(TorSOCKSPort),
			dest,
		), nil
	}
	return nil, errors.Errorf("%s is not a tunnel target", t)
}
