package pg

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_accounts.sql)

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

// Migrator aplica migraciones SQL embebidas.
type Migrator struct {
	fsys embed.FS
	dir  string
}

func NewMigrator(fsys embed.FS, dir string) *Migrator {
	return &Migrator{fsys: fsys, dir: dir}
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS embebido, ordenadas
// por versión.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.fsys, m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matches := migrationFilePattern.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			return nil
		}
		version, _ := strconv.Atoi(matches[1])
		content, err := m.fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    matches[2],
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Run aplica las migraciones pendientes.
func (m *Migrator) Run(ctx context.Context, db Querier) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{}

	const createTable = `
CREATE TABLE IF NOT EXISTS _migrations (
    version INT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
	if _, err := db.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := m.appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := m.ParseMigrations()
	if err != nil {
		return nil, fmt.Errorf("parsing migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}
		if _, err := db.Exec(ctx, mig.SQL); err != nil {
			return nil, fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err)
		}
		const record = `INSERT INTO _migrations (version, name) VALUES ($1, $2);`
		if _, err := db.Exec(ctx, record, mig.Version, mig.Name); err != nil {
			return nil, fmt.Errorf("recording migration %d: %w", mig.Version, err)
		}
		result.Applied = append(result.Applied, mig.Version)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (m *Migrator) appliedVersions(ctx context.Context, db Querier) (map[int]bool, error) {
	const q = `SELECT version FROM _migrations;`
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
