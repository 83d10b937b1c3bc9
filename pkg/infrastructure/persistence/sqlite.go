// Package persistence provides the sqlite-backed repository for the
// permission store. This is the infrastructure adapter for
// permission.Repository; the core never sees SQL.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
)

const schema = `
CREATE TABLE IF NOT EXISTS grants (
	subject    TEXT NOT NULL,
	group_id   TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	capability TEXT NOT NULL,
	effect     TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (subject, group_id, user_id, capability)
);
CREATE TABLE IF NOT EXISTS features (
	plugin   TEXT NOT NULL,
	group_id TEXT NOT NULL DEFAULT '',
	user_id  TEXT NOT NULL DEFAULT '',
	enabled  INTEGER NOT NULL,
	PRIMARY KEY (plugin, group_id, user_id)
);
`

// SQLiteRepository persists grants and feature flags in a single sqlite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and if needed initializes) the database at path.
// Use ":memory:" for tests.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) LoadGrants() ([]permission.Grant, error) {
	rows, err := r.db.Query(`SELECT subject, group_id, user_id, capability, effect, expires_at FROM grants`)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()

	var grants []permission.Grant
	for rows.Next() {
		var g permission.Grant
		var expires int64
		if err := rows.Scan(&g.Subject, &g.Scope.GroupID, &g.Scope.UserID, &g.Capability, &g.Effect, &expires); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		if expires > 0 {
			g.ExpiresAt = time.Unix(expires, 0).UTC()
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *SQLiteRepository) SaveGrant(g permission.Grant) error {
	var expires int64
	if !g.ExpiresAt.IsZero() {
		expires = g.ExpiresAt.Unix()
	}
	_, err := r.db.Exec(
		`INSERT INTO grants (subject, group_id, user_id, capability, effect, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject, group_id, user_id, capability)
		 DO UPDATE SET effect = excluded.effect, expires_at = excluded.expires_at`,
		g.Subject, g.Scope.GroupID, g.Scope.UserID, g.Capability, string(g.Effect), expires,
	)
	if err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteGrant(subject string, scope domain.Scope, capability string) error {
	_, err := r.db.Exec(
		`DELETE FROM grants WHERE subject = ? AND group_id = ? AND user_id = ? AND capability = ?`,
		subject, scope.GroupID, scope.UserID, capability,
	)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadFeatures() ([]permission.FeatureFlag, error) {
	rows, err := r.db.Query(`SELECT plugin, group_id, user_id, enabled FROM features`)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}
	defer rows.Close()

	var flags []permission.FeatureFlag
	for rows.Next() {
		var f permission.FeatureFlag
		var enabled int
		if err := rows.Scan(&f.Plugin, &f.Scope.GroupID, &f.Scope.UserID, &enabled); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		f.Enabled = enabled != 0
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func (r *SQLiteRepository) SaveFeature(f permission.FeatureFlag) error {
	enabled := 0
	if f.Enabled {
		enabled = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO features (plugin, group_id, user_id, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (plugin, group_id, user_id) DO UPDATE SET enabled = excluded.enabled`,
		f.Plugin, f.Scope.GroupID, f.Scope.UserID, enabled,
	)
	if err != nil {
		return fmt.Errorf("save feature: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteFeature(plugin string, scope domain.Scope) error {
	_, err := r.db.Exec(
		`DELETE FROM features WHERE plugin = ? AND group_id = ? AND user_id = ?`,
		plugin, scope.GroupID, scope.UserID,
	)
	if err != nil {
		return fmt.Errorf("delete feature: %w", err)
	}
	return nil
}

// Compile-time verification
var _ permission.Repository = (*SQLiteRepository)(nil)
