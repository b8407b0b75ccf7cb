package main

import (
	"context"
	"io"
	"log"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/skoret/jumpwire/internal/artifact"
	"github.com/skoret/jumpwire/internal/config"
	"github.com/skoret/jumpwire/internal/console"
	"github.com/skoret/jumpwire/internal/lifecycle"
	"github.com/skoret/jumpwire/internal/provisioning"
	"github.com/skoret/jumpwire/internal/storage"
)

type globalFlags struct {
	home        string
	artifactDir string
	db          string
	dryRun      bool
	verbose     bool
}

func (g *globalFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&g.home, "home", "", "state directory (default ~/.jumpwire, env JUMPWIRE_HOME)")
	fs.StringVar(&g.artifactDir, "artifact-dir", "", "where bootstrap scripts are written (default current directory, env JUMPWIRE_ARTIFACT_DIR)")
	fs.StringVar(&g.db, "db", "", "ledger database (default <home>/ledger.db, env JUMPWIRE_DB)")
	fs.BoolVar(&g.dryRun, "dry-run", false, "print commands and file writes instead of performing them")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "log diagnostics to stderr")
}

// overrides keeps the flags set on either flag set.
func (g *globalFlags) overrides(sets ...*pflag.FlagSet) config.Overrides {
	o := config.Overrides{Home: g.home, ArtifactDir: g.artifactDir, LedgerDSN: g.db}
	for _, fs := range sets {
		if fs == nil {
			continue
		}
		if fs.Changed("dry-run") {
			o.DryRun = &g.dryRun
		}
		if fs.Changed("verbose") {
			o.Verbose = &g.verbose
		}
	}
	return o
}

// app holds the components of one invocation.
type app struct {
	root     *config.Root
	store    *config.Store
	ledger   *storage.Repository
	printer  *console.Printer
	prompter *console.Prompter
	runner   provisioning.Runner
	driver   *provisioning.Driver
	services *provisioning.Services
	ctrl     *lifecycle.Controller
}

func newPrinter(out, errOut io.Writer) *console.Printer {
	return console.NewPrinter(out, errOut)
}

func newApp(ctx context.Context, root *config.Root, in io.Reader, out, errOut io.Writer) (*app, error) {
	if root.Verbose() {
		log.SetOutput(errOut)
	} else {
		log.SetOutput(io.Discard)
	}
	if err := root.Ensure(); err != nil {
		return nil, err
	}

	a := &app{
		root:     root,
		store:    config.NewStore(root.ConfigFile()),
		printer:  newPrinter(out, errOut),
		prompter: console.NewPrompter(in, out),
	}

	ledger, err := storage.NewRepository(root.LedgerDSN())
	if err == nil {
		err = ledger.Migrate(ctx)
		if err != nil {
			ledger.Close()
		}
	}
	if err != nil {
		a.printer.Warn("ledger unavailable, history is not recorded: %v", err)
	} else {
		a.ledger = ledger
	}

	if root.DryRun() {
		a.runner = provisioning.NewDryRunRunner()
	} else {
		a.runner = provisioning.ExecRunner{}
	}
	a.driver = provisioning.NewDriver(a.runner, root.DryRun())
	a.driver.Progress = a.printer.Step
	a.driver.Warn = func(msg string) { a.printer.Warn("%s", msg) }
	a.services = provisioning.NewServices(a.runner)

	var events lifecycle.EventRecorder
	if a.ledger != nil {
		events = a.ledger
	}
	a.ctrl = lifecycle.NewController(root, a.store, lifecycle.NewOSProcess(), a.services, events)
	return a, nil
}

func (a *app) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

func (a *app) packager() *artifact.Packager {
	if a.ledger == nil {
		return artifact.NewPackager(a.root.ArtifactDir(), nil)
	}
	return artifact.NewPackager(a.root.ArtifactDir(), a.ledger)
}

func (a *app) record(ctx context.Context, t config.Target, action, detail string) {
	if a.ledger == nil {
		return
	}
	if err := a.ledger.RecordEvent(ctx, &storage.Event{Target: string(t), Action: action, Detail: detail}); err != nil {
		log.Printf("Warning: failed to record %s event: %v", action, err)
	}
}

// target resolves --method, asking on a terminal when it is not set.
func (a *app) target(method string) (config.Target, error) {
	if method != "" {
		return config.ParseTarget(method)
	}
	i, err := a.prompter.Choose("Select the tunnel method:", config.TargetNames())
	if errors.Is(err, console.ErrNotInteractive) {
		return "", errors.New("--method is required")
	}
	if err != nil {
		return "", err
	}
	return config.Targets[i], nil
}

type command struct {
	name  string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, a *app, fs *pflag.FlagSet) error
}

var commands = []command{
	{name: "setup", flags: setupFlags, run: runSetup},
	{name: "start", flags: methodFlag, run: runStart},
	{name: "stop", flags: methodFlag, run: runStop},
	{name: "test", flags: methodFlag, run: runTest},
	{name: "status", run: runStatus},
	{name: "history", flags: historyFlags, run: runHistory},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	var g globalFlags
	global := pflag.NewFlagSet("jumpwire", pflag.ContinueOnError)
	global.SetOutput(errOut)
	global.SetInterspersed(false)
	g.add(global)
	global.Usage = func() { printUsage(errOut, global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		root, err := config.LoadRoot(g.overrides(global))
		if err != nil {
			return err
		}
		a, err := newApp(ctx, root, in, out, errOut)
		if err != nil {
			return err
		}
		defer a.Close()
		if !a.prompter.Interactive {
			printUsage(errOut, global)
			return errors.New("no command given")
		}
		return runMenu(ctx, a)
	}

	cmd, ok := findCommand(rest[0])
	if !ok {
		printUsage(errOut, global)
		return errors.Errorf("unknown command %q", rest[0])
	}
	fs := pflag.NewFlagSet("jumpwire "+cmd.name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	// The global flags are shared, not redefined: defining them again
	// would reset the values parsed before the command name.
	fs.AddFlagSet(global)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return errors.Errorf("unexpected argument %q", fs.Arg(0))
	}

	root, err := config.LoadRoot(g.overrides(global, fs))
	if err != nil {
		return err
	}
	a, err := newApp(ctx, root, in, out, errOut)
	if err != nil {
		return err
	}
	defer a.Close()
	if root.DryRun() {
		a.printer.Warn("dry run: no command is executed and no system file is written")
	}
	return cmd.run(ctx, a, fs)
}

func runMenu(ctx context.Context, a *app) error {
	names := make([]string, 0, len(commands)+1)
	for _, c := range commands {
		names = append(names, c.name)
	}
	names = append(names, "quit")

	for {
		a.printer.Heading("=== jumpwire ===")
		i, err := a.prompter.Choose("What do you want to do?", names)
		if err != nil {
			return err
		}
		if i == len(commands) {
			return nil
		}
		cmd := commands[i]
		fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
		if cmd.flags != nil {
			cmd.flags(fs)
		}
		if err := cmd.run(ctx, a, fs); err != nil {
			a.printer.Error("%v", err)
		}
		a.printer.Info("")
	}
}
