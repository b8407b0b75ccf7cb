package config

import (
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
)

// Root is the configuration root every component receives at construction.
// It is loaded once at process start and is read-only afterwards.
type Root struct {
	home        string
	artifactDir string
	ledgerDSN   string
	dryRun      bool
	verbose     bool
}

// Home is the state directory holding the store, PID files and keys.
func (r *Root) Home() string { return r.home }

// ArtifactDir is where bootstrap artifacts are written.
func (r *Root) ArtifactDir() string { return r.artifactDir }

func (r *Root) LedgerDSN() string { return r.ledgerDSN }

// DryRun reports whether commands and system writes are only printed.
func (r *Root) DryRun() bool { return r.dryRun }

func (r *Root) Verbose() bool { return r.verbose }

// Overrides carries command-line values that take precedence over the
// environment. Empty strings and nil pointers leave the environment value.
type Overrides struct {
	Home        string
	ArtifactDir string
	LedgerDSN   string
	DryRun      *bool
	Verbose     *bool
}

// LoadRoot builds the Root from the environment (JUMPWIRE_HOME,
// JUMPWIRE_ARTIFACT_DIR, JUMPWIRE_DB, JUMPWIRE_DRY_RUN, JUMPWIRE_VERBOSE),
// a .env file if present, and the given overrides.
func LoadRoot(o Overrides) (*Root, error) {
	r := &Root{
		home:        os.Getenv("JUMPWIRE_HOME"),
		artifactDir: os.Getenv("JUMPWIRE_ARTIFACT_DIR"),
		ledgerDSN:   os.Getenv("JUMPWIRE_DB"),
	}

	var err error
	if r.dryRun, err = envBool("JUMPWIRE_DRY_RUN"); err != nil {
		return nil, err
	}
	if r.verbose, err = envBool("JUMPWIRE_VERBOSE"); err != nil {
		return nil, err
	}

	if o.Home != "" {
		r.home = o.Home
	}
	if o.ArtifactDir != "" {
		r.artifactDir = o.ArtifactDir
	}
	if o.LedgerDSN != "" {
		r.ledgerDSN = o.LedgerDSN
	}
	if o.DryRun != nil {
		r.dryRun = *o.DryRun
	}
	if o.Verbose != nil {
		r.verbose = *o.Verbose
	}

	if r.home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve home directory, set JUMPWIRE_HOME")
		}
		r.home = filepath.Join(home, ".jumpwire")
	}
	if r.artifactDir == "" {
		r.artifactDir = "."
	}
	if r.ledgerDSN == "" {
		r.ledgerDSN = filepath.Join(r.home, "ledger.db")
	}
	return r, nil
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s", key)
	}
	return b, nil
}

// Ensure creates the home directory.
func (r *Root) Ensure() error {
	if err := os.MkdirAll(r.home, 0700); err != nil {
		return errors.Wrapf(err, "failed to create %s", r.home)
	}
	return nil
}

// ConfigFile is the path of the connection store.
func (r *Root) ConfigFile() string {
	return filepath.Join(r.home, "config.yaml")
}

// PIDFile is the path of the tunnel PID file for t.
func (r *Root) PIDFile(t Target) string {
	return filepath.Join(r.home, string(t)+".pid")
}

// DefaultKeyPath is where the reverse tunnel key pair lives unless overridden.
func (r *Root) DefaultKeyPath() string {
	return filepath.Join(r.home, "jumpbox_key")
}
