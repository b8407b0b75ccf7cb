package config

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Connection holds the named fields gathered for one target. Values are kept
// as strings; numeric fields are parsed on use.
type Connection map[string]string

// Get returns the value stored under key, or "".
func (c Connection) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Int parses the value stored under key as a decimal integer.
func (c Connection) Int(key string) (int, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return 0, errors.Errorf("field %q is not set", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "field %q", key)
	}
	return n, nil
}

// Port is Int restricted to the TCP/UDP port range.
func (c Connection) Port(key string) (int, error) {
	n, err := c.Int(key)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, errors.Errorf("field %q: port %d out of range", key, n)
	}
	return n, nil
}

// Default sets key to value when it is absent or empty.
func (c Connection) Default(key, value string) {
	if c[key] == "" {
		c[key] = value
	}
}

// Missing returns the keys absent or empty in c, sorted.
func (c Connection) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if c.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Require fails when any of keys is absent or empty.
func (c Connection) Require(keys ...string) error {
	if missing := c.Missing(keys...); len(missing) > 0 {
		return errors.Errorf("missing required fields: %v", missing)
	}
	return nil
}

// Clone returns a copy of c.
func (c Connection) Clone() Connection {
	out := make(Connection, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
