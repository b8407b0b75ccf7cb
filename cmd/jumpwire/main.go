package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		newPrinter(os.Stdout, os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}

const usage = `jumpwire provisions tunnels between a central server and a jump box.

Usage:
  jumpwire [global flags] <command> [--method TARGET] [flags]

Commands:
  setup     provision the central side and write the jump box bootstrap script
  start     start the tunnel or service of a configured target
  stop      stop it
  test      check that the tunnel works
  status    show the state of every target
  history   list packaged artifacts and lifecycle events

Targets: tor-ssh, reverse-ssh, openvpn, wireguard

Without a command, an interactive menu is shown.

Global flags:
`

func printUsage(w io.Writer, global *pflag.FlagSet) {
	fmt.Fprint(w, usage)
	fmt.Fprint(w, global.FlagUsages())
	fmt.Fprintln(w, "\nRun 'jumpwire <command> --help' for the flags of a command.")
}
