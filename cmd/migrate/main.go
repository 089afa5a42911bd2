package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/storage/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		command    = flag.String("command", "up", "Migration command: up, down, version, force")
		steps      = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version    = flag.Uint("version", 0, "Target version (for force command)")
		dir        = flag.String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if cfg.DB.Adapter != "postgres" {
		log.Fatalf("Migrations only work with PostgreSQL. Current adapter: %s", cfg.DB.Adapter)
	}

	migrationsDir := cfg.DB.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	mg, err := postgres.NewMigrator(migrationsDir, cfg.DB.PostgresDSN)
	if err != nil {
		log.Fatalf("Migrator: %v", err)
	}
	defer mg.Close()

	switch *command {
	case "up":
		if err := mg.Steps(*steps, false); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Println("✓ Migrations applied successfully")
	case "down":
		if err := mg.Steps(*steps, true); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("✓ Migrations rolled back successfully")
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		if dirty {
			fmt.Printf("⚠ Database is in a dirty state (version %d)\n", v)
			mg.Close()
			os.Exit(1)
		}
		fmt.Printf("Current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			log.Fatal("Version required for force command (use -version flag)")
		}
		if err := mg.Force(int(*version)); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		fmt.Printf("✓ Forced database to version %d\n", *version)
	default:
		log.Fatalf("Unknown command: %s (supported: up, down, version, force)", *command)
	}
}
