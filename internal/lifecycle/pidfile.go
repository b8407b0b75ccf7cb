package lifecycle

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PIDFile holds the process identifier of a background tunnel.
type PIDFile struct {
	Path string
}

// Read returns the recorded PID. ok is false when the file does not exist.
func (f PIDFile) Read() (pid int, ok bool, err error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to read %s", f.Path)
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true, errors.Errorf("%s does not contain a valid PID", f.Path)
	}
	return pid, true, nil
}

// Write records pid, replacing any previous value.
func (f PIDFile) Write(pid int) error {
	if pid <= 0 {
		return errors.Errorf("refusing to record invalid PID %d", pid)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to write %s", f.Path)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (f PIDFile) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", f.Path)
	}
	return nil
}
