package db

import (
	"fmt"
	"strconv"
)

// RunMigrateCommand dispatches the `presenced migrate <cmd>` subcommands.
func (db *DB) RunMigrateCommand(args []string, migrationsDir string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate <up|down|status|force N>")
	}

	switch args[0] {
	case "up":
		if err := db.MigrateUp(migrationsDir); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	case "down":
		if err := db.MigrateDown(migrationsDir); err != nil {
			return err
		}
		fmt.Println("rolled back one migration")
		return nil
	case "status":
		version, dirty, err := db.MigrateVersion(migrationsDir)
		if err != nil {
			return err
		}
		fmt.Printf("version: %d dirty: %t\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := db.MigrateForce(migrationsDir, version); err != nil {
			return err
		}
		fmt.Printf("forced version to %d\n", version)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
}
