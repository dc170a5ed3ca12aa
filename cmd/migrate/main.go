// Command migrate creates the delivery diagnostics table and reports recent
// delivery outcomes.
//
//	migrate            apply the schema
//	migrate --stats    summarize the last 24h of deliveries
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"

	"github.com/worldbrain/capi-gateway/internal/diagnostics"
)

func main() {
	stats := flag.Bool("stats", false, "print delivery counts instead of migrating")
	window := flag.Duration("since", 24*time.Hour, "stats window")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	rec := diagnostics.NewPostgresRecorder(db)
	if !*stats {
		if err := rec.EnsureSchema(ctx); err != nil {
			log.Fatal(err)
		}
		log.Println("Migrations complete")
		return
	}

	counts, err := rec.Stats(ctx, time.Now().Add(-*window))
	if err != nil {
		log.Fatal(err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tSTATUS\tCOUNT\tFBC\tFBP\tIP")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", c.EventName, c.Status, c.Count, c.WithClickID, c.WithPixelID, c.WithIP)
	}
	tw.Flush()
}
