package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wishpot/wishpot-backend/pkg/config"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": *cmd, "dir": *dir})

	if !migrate.RequiresDB(*cmd) {
		if err := runOffline(*cmd, *dir, *name); err != nil {
			fail(ctx, logg, *cmd, err)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "sql database", err)
	}

	switch *cmd {
	case "up", "down", "status":
		err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	case "version":
		if *version == "" {
			err = fmt.Errorf("missing -version for version command")
			break
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	default:
		err = fmt.Errorf("unknown -cmd value %q", *cmd)
	}
	if err != nil {
		fail(ctx, logg, *cmd, err)
	}
	logg.Info(ctx, "migrate finished")
}

func runOffline(cmd, dir, name string) error {
	switch cmd {
	case "create":
		if name == "" {
			return fmt.Errorf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(dir, name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
	}
	return nil
}

func fail(ctx context.Context, logg *logger.Logger, step string, err error) {
	logg.Error(ctx, fmt.Sprintf("migrate failed: %s", step), err)
	os.Exit(1)
}
