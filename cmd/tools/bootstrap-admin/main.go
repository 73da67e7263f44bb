// Command bootstrap-admin seeds an administrator account in the datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mixroom/internal/models"
	"mixroom/internal/storage"
)

func main() {
	_ = godotenv.Load()

	var (
		jsonPath    string
		postgresDSN string
		email       string
		username    string
		password    string
		rank        int
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&username, "username", "admin", "Username for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.IntVar(&rank, "rank", models.StaffRankOwner, "Global rank assigned to the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("MIXROOM_POSTGRES_DSN"))
	}
	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	normalized := models.NormalizeUsername(username)
	if !models.ValidUsername(normalized) {
		fatalf("--username %q is not a valid username", username)
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	account, created, err := bootstrapAdmin(repo, strings.TrimSpace(email), normalized, password, rank)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin account %s (%s) %s successfully.\n", account.Username, account.Email, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewStorage(jsonPath)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.ApplyPostgresMigrations(ctx, postgresDSN); err != nil {
		return nil, err
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAdmin(repo storage.Repository, email, username, password string, rank int) (models.Account, bool, error) {
	if existing, ok := repo.GetAccountByUsername(username); ok {
		return existing, false, fmt.Errorf("account %q already exists", existing.Username)
	}

	account, err := repo.CreateAccount(storage.CreateAccountParams{
		Email:    email,
		Username: username,
		Password: password,
		Rank:     rank,
	})
	if err != nil {
		return models.Account{}, false, err
	}
	return account, true, nil
}
