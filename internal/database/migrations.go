package database

import (
	"errors"
	"fmt"

	"github.com/RubachokBoss/proctored-assessment/internal/config"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const defaultMigrationsSource = "file://migrations"

// Migrator применяет схему из migrations/. Каждый метод закрывает мигратор,
// один Migrator - одна операция.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator открывает собственное соединение с базой. Пустой source - ./migrations.
func NewMigrator(cfg config.DatabaseConfig, source string) (*Migrator, error) {
	db, err := NewPostgres(cfg)
	if err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	if source == "" {
		source = defaultMigrationsSource
	}

	m, err := migrate.NewWithDatabaseInstance(source, cfg.Name, driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load migrations from %s: %w", source, err)
	}

	return &Migrator{m: m}, nil
}

func (m *Migrator) Up() error {
	return m.run("apply", m.m.Up)
}

func (m *Migrator) Down() error {
	return m.run("rollback", m.m.Down)
}

// Force sets the recorded version without running anything; used to recover from a dirty state.
func (m *Migrator) Force(version int) error {
	return m.run(fmt.Sprintf("force version %d", version), func() error {
		return m.m.Force(version)
	})
}

// Version reports the applied schema version; ok is false on an empty database.
func (m *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	defer m.close()

	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, true, nil
}

func (m *Migrator) run(op string, fn func() error) error {
	defer m.close()

	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to %s migrations: %w", op, err)
	}
	return nil
}

func (m *Migrator) close() {
	_, _ = m.m.Close()
}
