package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MissingConfigurationError is returned when an operation needs a target that
// was never set up.
type MissingConfigurationError struct {
	Target Target
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("no configuration for %s: run 'jumpwire setup --method %s' first", e.Target, e.Target)
}

// Store persists one Connection per target in a YAML document.
//
// There is no locking: concurrent invocations writing the same file race,
// and the last writer wins.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads every stored connection. A missing file yields an empty map.
func (s *Store) Load() (map[Target]Connection, error) {
	out := make(map[Target]Connection)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, errors.Wrapf(err, "failed to read config file %s", s.path)
	}

	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", s.path)
	}
	for name, fields := range raw {
		t, err := ParseTarget(name)
		if err != nil {
			log.Printf("ignoring unknown section %q in %s", name, s.path)
			continue
		}
		out[t] = Connection(fields)
	}
	return out, nil
}

// Get returns the connection stored for t, or *MissingConfigurationError.
func (s *Store) Get(t Target) (Connection, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}
	c, ok := all[t]
	if !ok {
		return nil, &MissingConfigurationError{Target: t}
	}
	return c, nil
}

// Has reports whether t has a stored connection.
func (s *Store) Has(t Target) (bool, error) {
	all, err := s.Load()
	if err != nil {
		return false, err
	}
	_, ok := all[t]
	return ok, nil
}

// Put replaces the connection stored for t, keeping the other targets.
func (s *Store) Put(t Target, c Connection) error {
	all, err := s.Load()
	if err != nil {
		return err
	}
	all[t] = c.Clone()

	raw := make(map[string]map[string]string, len(all))
	for k, v := range all {
		raw[string(k)] = v
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", s.path)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrapf(err, "failed to write config file %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace config file %s", s.path)
	}
	log.Printf("saved %s configuration to %s", t, s.path)
	return nil
}
