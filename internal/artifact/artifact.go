package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/skoret/jumpwire/internal/storage"
)

// FilesystemError is returned when the artifact cannot be written.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("cannot write artifact %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// PermissionError is returned when the artifact mode cannot be applied.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("cannot set permissions on artifact %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Recorder stores what was packaged. storage.Repository implements it.
type Recorder interface {
	RecordArtifact(ctx context.Context, a *storage.Artifact) error
}

const (
	executableMode = 0700
	companionMode  = 0600
)

// Packager writes rendered artifacts into a directory for manual transfer to
// the peer. It never transfers anything itself.
type Packager struct {
	dir    string
	ledger Recorder
	chmod  func(string, os.FileMode) error
}

// NewPackager returns a packager writing into dir. ledger may be nil.
func NewPackager(dir string, ledger Recorder) *Packager {
	return &Packager{dir: dir, ledger: ledger, chmod: os.Chmod}
}

// Package writes content to name inside the artifact directory, makes it
// executable by its owner only, and returns its absolute path.
func (p *Packager) Package(ctx context.Context, target, name string, content []byte) (string, error) {
	return p.write(ctx, target, name, content, executableMode, storage.ArtifactBootstrap)
}

// Attach writes a non-executable companion file next to the artifacts.
func (p *Packager) Attach(ctx context.Context, target, name string, content []byte) (string, error) {
	return p.write(ctx, target, name, content, companionMode, storage.ArtifactCompanion)
}

func (p *Packager) write(ctx context.Context, target, name string, content []byte, mode os.FileMode, kind storage.ArtifactKind) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.Errorf("invalid artifact name %q", name)
	}

	dir, err := filepath.Abs(p.dir)
	if err != nil {
		return "", &FilesystemError{Path: p.dir, Err: err}
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &FilesystemError{Path: path, Err: err}
	}

	// Written under a temporary name so a failed run never leaves a truncated
	// artifact at the final path.
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", &FilesystemError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &FilesystemError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &FilesystemError{Path: path, Err: err}
	}
	if err := p.chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return "", &PermissionError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &FilesystemError{Path: path, Err: err}
	}
	log.Printf("packaged %s artifact %s (%d bytes, mode %o)", target, path, len(content), mode)

	if p.ledger != nil {
		sum := sha256.Sum256(content)
		a := &storage.Artifact{
			Target: target,
			Kind:   kind,
			Path:   path,
			SHA256: hex.EncodeToString(sum[:]),
			Size:   int64(len(content)),
		}
		if err := p.ledger.RecordArtifact(ctx, a); err != nil {
			// The artifact exists on disk; the ledger is bookkeeping only.
			log.Printf("Warning: failed to record artifact %s: %v", path, err)
		}
	}
	return path, nil
}
