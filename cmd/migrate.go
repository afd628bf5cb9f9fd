package cmd

import (
	"fmt"

	"github.com/jmehdipour/commerce-sync/internal/config"
	"github.com/jmehdipour/commerce-sync/internal/db"
	"github.com/jmehdipour/commerce-sync/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if _, err := sqlDB.Exec(migrations.For(cfg.MySQL.Driver)); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
		fmt.Println(">> Relational migration complete")

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB == nil {
			return nil
		}
		defer chDB.Close()

		// clickhouse-go runs one statement per Exec
		for _, stmt := range migrations.Statements(migrations.ClickHouse) {
			if _, err := chDB.Exec(stmt); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		fmt.Println(">> ClickHouse migration complete")
		return nil
	},
}
