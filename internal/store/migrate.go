package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate applies Postgres migrations. An empty dir uses the migrations
// embedded in the binary; otherwise dir is a migrate source URL such as
// file://migrations. steps of 0 means all.
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dsn == "" {
		return fmt.Errorf("migrate: postgres dsn required")
	}
	var (
		m   *migrate.Migrate
		err error
	)
	if dir == "" {
		src, serr := iofs.New(migrationsFS, "migrations")
		if serr != nil {
			return fmt.Errorf("migrate: embedded source: %w", serr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, dsn)
	} else {
		m, err = migrate.New(dir, dsn)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up", "":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
