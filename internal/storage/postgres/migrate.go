package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Migrator wraps a golang-migrate instance bound to one database connection.
type Migrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

func NewMigrator(migrationsDir, dsn string) (*Migrator, error) {
	const op = "storage.postgres.NewMigrator"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: opening database connection: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: database ping failed: %w", op, err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: creating migrate driver: %w", op, err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: creating migrate instance: %w", op, err)
	}
	return &Migrator{db: db, m: m}, nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Steps applies n migrations up (n > 0) or down (n < 0). Zero means all the
// way up, or all the way down when down is set.
func (mg *Migrator) Steps(n int, down bool) error {
	var err error
	switch {
	case n != 0:
		if down {
			n = -n
		}
		err = mg.m.Steps(n)
	case down:
		err = mg.m.Down()
	default:
		err = mg.m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage.postgres.Steps: %w", err)
	}
	return nil
}

// Version returns the current schema version. An empty schema reports 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("storage.postgres.Force: %w", err)
	}
	return nil
}

// Migrate brings the schema at dsn up to date. A dirty schema is refused.
func Migrate(log *slog.Logger, migrationsDir, dsn string) error {
	mg, err := NewMigrator(migrationsDir, dsn)
	if err != nil {
		return err
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}

	if err := mg.Steps(0, false); err != nil {
		return err
	}

	newVersion, _, _ := mg.Version()
	if newVersion != version {
		log.Info("migrated database", slog.Uint64("from", uint64(version)), slog.Uint64("to", uint64(newVersion)))
	} else {
		log.Info("database is up to date", slog.Uint64("version", uint64(version)))
	}
	return nil
}
