package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Repository is the provisioning ledger: which artifacts were produced and
// which lifecycle actions ran.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the sqlite ledger at dsn.
func NewRepository(dsn string) (*Repository, error) {
	log.Printf("Initializing ledger with DSN: %s", dsn)

	// Handle file: prefix (remove it)
	dsn = strings.TrimPrefix(dsn, "file:")
	if dsn == "" {
		return nil, fmt.Errorf("ledger DSN is empty")
	}

	if dsn != ":memory:" {
		absPath, err := filepath.Abs(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve ledger path '%s': %w", dsn, err)
		}
		dbDir := filepath.Dir(absPath)
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory '%s': %w", dbDir, err)
		}
		log.Printf("Resolved ledger path to: %s", absPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger '%s': %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger '%s': %w", dsn, err)
	}
	log.Printf("Ledger opened successfully")

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Artifact operations

// RecordArtifact stores a and sets its ID.
func (r *Repository) RecordArtifact(ctx context.Context, a *Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = GetTime()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO artifacts (target, kind, path, sha256, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Target, string(a.Kind), a.Path, a.SHA256, a.Size, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// ListArtifacts returns the most recent artifacts first.
func (r *Repository) ListArtifacts(ctx context.Context, limit int) ([]Artifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, target, kind, path, sha256, size, created_at
		 FROM artifacts ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var kind string
		if err := rows.Scan(&a.ID, &a.Target, &kind, &a.Path, &a.SHA256, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Kind = ArtifactKind(kind)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// LatestArtifact returns the newest bootstrap artifact for target, or nil.
func (r *Repository) LatestArtifact(ctx context.Context, target string) (*Artifact, error) {
	a := &Artifact{}
	var kind string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, target, kind, path, sha256, size, created_at
		 FROM artifacts WHERE target = ? AND kind = ? ORDER BY id DESC LIMIT 1`,
		target, string(ArtifactBootstrap),
	).Scan(&a.ID, &a.Target, &kind, &a.Path, &a.SHA256, &a.Size, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}
	a.Kind = ArtifactKind(kind)
	return a, nil
}

// Event operations

// RecordEvent stores e and sets its ID.
func (r *Repository) RecordEvent(ctx context.Context, e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = GetTime()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO events (target, action, detail, created_at) VALUES (?, ?, ?, ?)`,
		e.Target, e.Action, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// ListEvents returns the most recent events first, optionally for one target.
func (r *Repository) ListEvents(ctx context.Context, target string, limit int) ([]Event, error) {
	query := `SELECT id, target, action, detail, created_at FROM events`
	args := []interface{}{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Target, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
