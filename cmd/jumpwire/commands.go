package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/lifecycle"
	"github.com/skoret/jumpwire/internal/provisioning"
	"github.com/skoret/jumpwire/internal/wireguard"
)

const (
	reachTimeout    = 10 * time.Second
	handshakeWindow = 3 * time.Minute
	timeLayout      = "2006-01-02 15:04:05"
)

func methodFlag(fs *pflag.FlagSet) {
	fs.StringP("method", "m", "", "target: tor-ssh, reverse-ssh, openvpn or wireguard")
}

func setupFlags(fs *pflag.FlagSet) {
	methodFlag(fs)
	addFieldFlags(fs)
	fs.Bool("install", false, "install missing dependencies with apt-get instead of aborting")
	fs.Bool("remote", false, "tor-ssh: also install tor on the jump box over SSH")
}

func historyFlags(fs *pflag.FlagSet) {
	methodFlag(fs)
	fs.Int("limit", 20, "number of entries to show")
}

func targetFlag(a *app, fs *pflag.FlagSet) (config.Target, error) {
	method, _ := fs.GetString("method")
	return a.target(method)
}

func runSetup(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	t, err := targetFlag(a, fs)
	if err != nil {
		return err
	}
	if !a.root.DryRun() && unix.Geteuid() != 0 {
		return errors.New("setup changes system configuration and must run as root (use sudo)")
	}

	conn, ignored := connectionFromFlags(fs, t)
	for _, flag := range ignored {
		a.printer.Warn("%s does not apply to %s and is ignored", flag, t)
	}
	previous, err := a.store.Get(t)
	var missing *config.MissingConfigurationError
	if err != nil && !errors.As(err, &missing) {
		return err
	}
	if err := completeConnection(t, conn, previous, a.prompter); err != nil {
		return err
	}

	p, err := provisioning.New(t, provisioning.Deps{
		Root:     a.root,
		Driver:   a.driver,
		Packager: a.packager(),
	})
	if err != nil {
		return err
	}
	install, _ := fs.GetBool("install")
	remote, _ := fs.GetBool("remote")
	if remote && t != config.TorSSH {
		a.printer.Warn("--remote only applies to tor-ssh and is ignored")
	}

	a.printer.Heading("=== Setting up %s ===", t)
	res, err := provisioning.Setup(ctx, p, a.driver, a.store, conn, provisioning.Options{Install: install, Remote: remote})
	if err != nil {
		var depErr *provisioning.MissingDependencyError
		if errors.As(err, &depErr) {
			a.printer.Warn("missing dependencies, run: %s", depErr.Remediation())
		}
		return err
	}
	a.record(ctx, t, "setup", strings.Join(res.Artifacts, ", "))

	a.printer.Success("%s setup complete", t)
	for _, path := range res.Artifacts {
		a.printer.Info("  artifact: %s", path)
	}
	a.printer.Info("")
	for _, line := range res.Instructions {
		a.printer.Info("%s", line)
	}
	return nil
}

func (a *app) requireTools(ctx context.Context, t config.Target) error {
	if !t.Tunneled() {
		return nil
	}
	return a.driver.CheckDependencies(ctx, t, false)
}

func runStart(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	t, err := targetFlag(a, fs)
	if err != nil {
		return err
	}
	if err := a.requireTools(ctx, t); err != nil {
		return err
	}
	res, err := a.ctrl.Start(ctx, t)
	if err != nil {
		return err
	}
	switch {
	case res.AlreadyRunning && res.Unit != "":
		a.printer.Warn("%s is already running", res.Unit)
	case res.AlreadyRunning:
		a.printer.Warn("%s tunnel is already running (PID %d)", t, res.PID)
	case res.Unit != "":
		a.printer.Success("%s started", res.Unit)
	default:
		if res.Stale {
			a.printer.Info("removed stale PID file of a dead tunnel")
		}
		a.printer.Success("%s tunnel started (PID %d)", t, res.PID)
		a.printer.Info("  %s", strings.Join(res.Command, " "))
	}
	return nil
}

func runStop(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	t, err := targetFlag(a, fs)
	if err != nil {
		return err
	}
	res, err := a.ctrl.Stop(ctx, t)
	if err != nil {
		return err
	}
	switch {
	case res.NotRunning && res.Unit != "":
		a.printer.Warn("%s is not running", res.Unit)
	case res.NotRunning:
		a.printer.Warn("no %s tunnel running", t)
	case res.Stale:
		a.printer.Success("%s tunnel was not running; removed stale PID file", t)
	case res.Unit != "":
		a.printer.Success("%s stopped", res.Unit)
	default:
		a.printer.Success("%s tunnel stopped (PID %d)", t, res.PID)
	}
	return nil
}

func runTest(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	t, err := targetFlag(a, fs)
	if err != nil {
		return err
	}
	conn, err := a.store.Get(t)
	if err != nil {
		return err
	}
	a.printer.Heading("=== Testing %s ===", t)

	switch t {
	case config.TorSSH:
		st, err := a.ctrl.State(ctx, t)
		if err != nil {
			return err
		}
		if st.State != lifecycle.Running {
			return errors.Errorf("tor-ssh tunnel is %s: run 'jumpwire start --method tor-ssh' first", st.State)
		}
		ip, err := provisioning.ExitIP(ctx, a.runner, conn.Get("socks_port"))
		if err != nil {
			return errors.Wrap(err, "no traffic through the SOCKS proxy")
		}
		a.printer.Success("Tor exit IP: %s", ip)

	case config.ReverseSSH:
		st, err := a.ctrl.State(ctx, t)
		if err != nil {
			return err
		}
		a.printer.Info("tunnel: %s", st.State)
		sshPort := conn.Get("ssh_port")
		if sshPort == "" {
			sshPort = "22"
		}
		if err := provisioning.Reachable(ctx, conn.Get("server_ip"), sshPort, reachTimeout); err != nil {
			return err
		}
		a.printer.Success("%s:%s is reachable", conn.Get("server_ip"), sshPort)
		if st.State != lifecycle.Running {
			return errors.Errorf("reverse-ssh tunnel is %s", st.State)
		}

	case config.OpenVPN:
		unit, err := provisioning.ServiceUnit(t, conn)
		if err != nil {
			return err
		}
		state, err := a.services.Active(ctx, unit)
		if err != nil {
			return err
		}
		if state != "active" {
			return errors.Errorf("%s is %s", unit, state)
		}
		a.printer.Success("%s is active", unit)

	case config.WireGuard:
		return testWireGuard(a, conn)
	}
	return nil
}

func testWireGuard(a *app, conn config.Connection) error {
	inspector, err := wireguard.NewInspector(a.root.DryRun())
	if err != nil {
		return err
	}
	defer inspector.Close()

	iface := conn.Get("interface")
	if iface == "" {
		iface = "wg0"
	}
	dev, err := inspector.Device(iface)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, line := range dev.Report(now) {
		a.printer.Info("%s", line)
	}
	if !dev.Connected(now, handshakeWindow) {
		return errors.Errorf("no handshake on %s within the last %s", iface, handshakeWindow)
	}
	a.printer.Success("jump box peer is connected")
	return nil
}

func runStatus(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	var rows [][]string
	for _, t := range config.Targets {
		st, err := a.ctrl.State(ctx, t)
		if err != nil {
			rows = append(rows, []string{string(t), "error", "", err.Error()})
			continue
		}
		where := st.Unit
		if st.PID > 0 {
			where = "pid " + strconv.Itoa(st.PID)
		}
		rows = append(rows, []string{string(t), st.State.String(), where, st.Detail})
	}
	a.printer.Table([]string{"TARGET", "STATE", "PROCESS", "DETAIL"}, rows)
	return nil
}

func runHistory(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	if a.ledger == nil {
		return errors.New("ledger is unavailable")
	}
	limit, _ := fs.GetInt("limit")
	method, _ := fs.GetString("method")
	var target string
	if method != "" {
		t, err := config.ParseTarget(method)
		if err != nil {
			return err
		}
		target = string(t)
	}

	artifacts, err := a.ledger.ListArtifacts(ctx, limit)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, art := range artifacts {
		if target != "" && art.Target != target {
			continue
		}
		rows = append(rows, []string{
			art.CreatedAt.Local().Format(timeLayout), art.Target, string(art.Kind), shortSum(art.SHA256), art.Path,
		})
	}
	a.printer.Heading("Artifacts")
	if len(rows) == 0 {
		a.printer.Info("  none")
	} else {
		a.printer.Table([]string{"CREATED", "TARGET", "KIND", "SHA256", "PATH"}, rows)
	}

	events, err := a.ledger.ListEvents(ctx, target, limit)
	if err != nil {
		return err
	}
	rows = rows[:0]
	for _, e := range events {
		rows = append(rows, []string{e.CreatedAt.Local().Format(timeLayout), e.Target, e.Action, e.Detail})
	}
	a.printer.Info("")
	a.printer.Heading("Events")
	if len(rows) == 0 {
		a.printer.Info("  none")
	} else {
		a.printer.Table([]string{"TIME", "TARGET", "ACTION", "DETAIL"}, rows)
	}
	return nil
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
