package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every embedded migration that is not recorded in schema_migrations yet.
// Each file runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	sql := `create table if not exists schema_migrations (
				filename   text primary key,
				applied_at timestamptz not null default now()
			)`
	if _, err := s.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		applied, err := s.applyMigration(ctx, file)
		if err != nil {
			return fmt.Errorf("migration %s: %w", file, err)
		}
		if applied {
			s.logger.Infof("Applied migration %s", file)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, file string) (bool, error) {
	content, err := fs.ReadFile(migrations, "migrations/"+file)
	if err != nil {
		return false, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(context.Background())

	tag, err := tx.Exec(ctx, "insert into schema_migrations (filename) values ($1) on conflict do nothing", file)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
