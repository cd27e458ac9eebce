package cmd

import (
	"fmt"
	"os"

	"github.com/logsift/logsift/db"
	"github.com/logsift/logsift/internal/config"
)

const migrateUsage = "usage: logsift migrate [status]"

// migrateURL resolves the database URL for the migrate command.
// DATABASE_URL wins so migrations can run from hosts that have no AI
// provider configured; otherwise the full configuration is loaded.
func migrateURL() (string, error) {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.PostgresURL(), nil
}

// runMigrate applies pending schema migrations, or reports the schema
// state when invoked as "migrate status".
func runMigrate() error {
	args := commandArgs()

	u, err := migrateURL()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		if args[0] != "status" {
			return fmt.Errorf("unknown migrate subcommand %q\n%s", args[0], migrateUsage)
		}
		version, dirty, err := db.Status(u)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Println("schema version: none")
			return nil
		}
		fmt.Printf("schema version: %d\n", version)
		if dirty {
			fmt.Println("state: dirty (a migration died mid-run, inspect the schema)")
		} else {
			fmt.Println("state: clean")
		}
		return nil
	}

	if err := db.Migrate(u); err != nil {
		return err
	}
	version, _, err := db.Status(u)
	if err != nil {
		return err
	}
	fmt.Printf("schema up to date at version %d\n", version)
	return nil
}
