package main

import (
	"context"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/NordCoder/Pulsewatch/migrations"
)

// usage: migrator [up|down|status|version]
func main() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is empty")
	}
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := goose.RunContext(context.Background(), command, db, "."); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
	log.Printf("migrations: %s OK", command)
}
