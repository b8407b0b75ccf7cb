package provisioning

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/config"
)

// ServiceUnit returns the systemd unit that runs t on the central server.
func ServiceUnit(t config.Target, conn config.Connection) (string, error) {
	switch t {
	case config.OpenVPN:
		return openVPNServerUnit, nil
	case config.WireGuard:
		iface := conn.Get("interface")
		if iface == "" {
			iface = "wg0"
		}
		return WireGuardUnit(iface), nil
	}
	return "", errors.Errorf("%s does not run as a system service", t)
}

// Services controls system services through systemctl.
type Services struct {
	runner Runner
}

// NewServices returns a controller sending systemctl commands to runner.
func NewServices(runner Runner) *Services {
	return &Services{runner: runner}
}

func (s *Services) Start(ctx context.Context, unit string) error {
	_, err := s.runner.Run(ctx, Command{Name: "systemctl", Args: []string{"start", unit}})
	return err
}

func (s *Services) Stop(ctx context.Context, unit string) error {
	_, err := s.runner.Run(ctx, Command{Name: "systemctl", Args: []string{"stop", unit}})
	return err
}

// Active returns the unit state reported by systemctl is-active, such as
// "active", "inactive" or "failed". A non-active unit is not an error.
func (s *Services) Active(ctx context.Context, unit string) (string, error) {
	out, err := s.runner.Run(ctx, Command{Name: "systemctl", Args: []string{"is-active", unit}})
	state := strings.TrimSpace(string(out))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 && state != "" {
			return state, nil
		}
		return "", err
	}
	if state == "" {
		state = "unknown"
	}
	return state, nil
}
