package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/config"
	"github.com/jmehdipour/commerce-sync/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo products",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo products...")
		n, err := seedProducts(sqlDB)
		if err != nil {
			return err
		}
		log.Printf(">> Seed completed, %d new products", n)
		return nil
	},
}

type demoProduct struct {
	Name  string
	Price int64
}

var demoProducts = []demoProduct{
	{"Ceramic Mug", 12000},
	{"Desk Lamp", 45000},
	{"Notebook A5", 6500},
	{"Wireless Mouse", 32000},
	{"Mechanical Keyboard", 129000},
	{"Water Bottle", 18000},
	{"Backpack", 89000},
	{"Phone Stand", 15000},
}

// seedProducts inserts demo products missing by name; safe to re-run.
func seedProducts(dbx *sqlx.DB) (int, error) {
	tx, err := dbx.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Truncate(time.Microsecond)
	inserted := 0
	for _, p := range demoProducts {
		var exists int
		if err := tx.Get(&exists, `SELECT COUNT(*) FROM products WHERE name = ?`, p.Name); err != nil {
			return 0, fmt.Errorf("lookup product %q: %w", p.Name, err)
		}
		if exists > 0 {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO products (name, price, created_at) VALUES (?, ?, ?)`, p.Name, p.Price, now); err != nil {
			return 0, fmt.Errorf("insert product %q: %w", p.Name, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit products: %w", err)
	}
	return inserted, nil
}
