package main

import (
	"errors"
	"fmt"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/spf13/cobra"
	"os"
	"strings"
	"time"
)

const versionTimeFormat = "20060102150405"

func main() {
	rootCmd := &cobra.Command{
		Use:          "order-saga",
		Short:        "order fulfillment with a transactional outbox and a saga orchestrator",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		createMigrationCommand(),
		migrateCommand(),
		orderServiceCommand(),
		orchestratorCommand(),
		paymentServiceCommand(),
		demoCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func serviceConfig(cfg *config.Config, service string) (config.ServiceConfig, error) {
	svc, ok := cfg.Service(service)
	if !ok {
		return config.ServiceConfig{}, fmt.Errorf("unknown service %q", service)
	}
	return svc, nil
}

func createMigrationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-create [service] [name]",
		Short: "create sql migrations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := serviceConfig(cfg, args[0])
			if err != nil {
				return err
			}

			version := time.Now().Format(versionTimeFormat)
			name := args[1]
			up := fmt.Sprintf("%s/%s_%s.up.sql", svc.MigrationDir, version, name)
			down := fmt.Sprintf("%s/%s_%s.down.sql", svc.MigrationDir, version, name)

			if err = os.WriteFile(up, []byte{}, 0644); err != nil {
				return err
			}
			if err = os.WriteFile(down, []byte{}, 0644); err != nil {
				return err
			}

			fmt.Println("Created SQL up script:", up)
			fmt.Println("Created SQL down script:", down)
			return nil
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-up [service]",
		Short: "migrate all the way up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := serviceConfig(cfg, args[0])
			if err != nil {
				return err
			}

			m, err := migrate.New(fmt.Sprintf("file://%s", svc.MigrationDir), migrationURL(svc))
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			err = m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Println("No change in migration")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("Migrated up")
			return nil
		},
	}
}

// migrationURL turns the service DSN into a migrate database URL. Migration
// files hold several statements, which the MySQL driver only runs when asked to.
func migrationURL(svc config.ServiceConfig) string {
	if svc.Driver == store.DriverPgx {
		dsn := strings.TrimPrefix(strings.TrimPrefix(svc.DatabaseDSN, "postgres://"), "postgresql://")
		return "pgx5://" + dsn
	}
	sep := "?"
	if strings.Contains(svc.DatabaseDSN, "?") {
		sep = "&"
	}
	return fmt.Sprintf("mysql://%s%smultiStatements=true", svc.DatabaseDSN, sep)
}
