package storage

import (
	"time"
)

// Artifact is a generated file handed to the operator for transfer.
type Artifact struct {
	ID        int64
	Target    string
	Kind      ArtifactKind
	Path      string
	SHA256    string
	Size      int64
	CreatedAt time.Time
}

// ArtifactKind tells bootstrap scripts from companion files.
type ArtifactKind string

const (
	ArtifactBootstrap ArtifactKind = "bootstrap"
	ArtifactCompanion ArtifactKind = "companion"
)

// Event is one lifecycle action taken against a target.
type Event struct {
	ID        int64
	Target    string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// GetTime returns current time (helper for testing)
func GetTime() time.Time {
	return time.Now()
}
