package migrate

import (
	"embed"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AppliedMigration is one row of the schema_migrations marker table.
type AppliedMigration struct {
	MigrationID string `gorm:"column:migration_id;primaryKey"`
	AppliedAt   int64  `gorm:"column:applied_at;not null"`
}

// TableName specifies the marker table name.
func (AppliedMigration) TableName() string {
	return "schema_migrations"
}

// Apply ensures every embedded migration script has been executed
// exactly once, in ascending filename order. Each script runs as a unit
// together with its marker insert, so a failing script leaves no
// partial state behind. Safe to call on every startup.
func Apply(db *gorm.DB, log hclog.Logger) error {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("migrate")

	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			migration_id TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`).Error; err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	names, err := listScripts()
	if err != nil {
		return fmt.Errorf("failed to list migration scripts: %w", err)
	}

	applied, err := appliedSet(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, name := range names {
		if applied[name] {
			log.Debug("migration already applied", "migration_id", name)
			continue
		}

		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(body)).Error; err != nil {
				return err
			}
			return tx.Create(&AppliedMigration{
				MigrationID: name,
				AppliedAt:   time.Now().Unix(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}

		log.Info("applied migration", "migration_id", name)
	}

	return nil
}

// Applied returns the marker rows in application order.
func Applied(db *gorm.DB) ([]AppliedMigration, error) {
	var rows []AppliedMigration
	err := db.Order("migration_id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	return rows, nil
}

// Pending returns embedded script names that have not been applied yet.
func Pending(db *gorm.DB) ([]string, error) {
	names, err := listScripts()
	if err != nil {
		return nil, err
	}
	applied, err := appliedSet(db)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range names {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func listScripts() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func appliedSet(db *gorm.DB) (map[string]bool, error) {
	rows, err := Applied(db)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.MigrationID] = true
	}
	return set, nil
}
