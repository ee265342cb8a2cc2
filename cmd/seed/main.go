package main

import (
	"context"
	"flag"
	"log"

	"tutortrack/internal/auth"
	"tutortrack/internal/config"
	"tutortrack/internal/store"
)

// Seed creates a staff account so the center can log in to the API.
func main() {
	email := flag.String("email", "", "account email (report recipient)")
	name := flag.String("name", "", "center name")
	password := flag.String("password", "", "login password")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("usage: seed -email owner@example.com -password secret [-name \"Center Name\"]")
	}

	cfg := config.Load()
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	acct, err := auth.NewAccounts(db.Client).Create(ctx, *email, *name, *password)
	if err != nil {
		log.Fatalf("create account failed: %v", err)
	}
	log.Printf("account created: %s (%s)", acct.ID, acct.Email)
}
