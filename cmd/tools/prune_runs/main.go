// prune_runs deletes terminal export runs older than a retention window.
//
// Usage:
//
//	DB_URL=postgres://... prune_runs -days 90
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	days := flag.Int("days", 90, "delete terminal runs older than this many days")
	flag.Parse()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("missing DB_URL")
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatalf("Unable to parse DB URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	cutoff := time.Now().AddDate(0, 0, -*days)
	cmdTag, err := pool.Exec(context.Background(), `
		DELETE FROM export_runs
		WHERE state IN ('succeeded', 'failed') AND started_at < $1`, cutoff)
	if err != nil {
		log.Fatalf("Failed to prune runs: %v", err)
	}

	if cmdTag.RowsAffected() == 0 {
		fmt.Printf("No terminal runs older than %s.\n", cutoff.Format("2006-01-02"))
	} else {
		fmt.Printf("Deleted %d run(s) older than %s.\n", cmdTag.RowsAffected(), cutoff.Format("2006-01-02"))
	}
}
