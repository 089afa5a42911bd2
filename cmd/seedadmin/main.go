// Command seedadmin creates a confirmed admin account, or promotes an
// existing account to admin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/example/contacts/internal/auth"
	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/storage"
	"github.com/example/contacts/internal/storage/store"
	"golang.org/x/term"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		email      = flag.String("email", os.Getenv("ADMIN_EMAIL"), "Admin email (ADMIN_EMAIL)")
		username   = flag.String("username", "admin", "Username for a new admin")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	addr := adminEmail(*email)
	if addr == "" {
		log.Fatal("Email required (use -email or ADMIN_EMAIL)")
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Password (empty keeps the current one): ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			log.Fatalf("Read password: %v", err)
		}
		password = string(b)
	} else if password == "" {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		password = strings.TrimSpace(line)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DB, slog.Default())
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	defer db.Close()

	created, err := seed(ctx, db, auth.NewBcryptHasher(cfg.Auth.BcryptCost), *username, addr, password)
	if err != nil {
		db.Close()
		log.Fatalf("Seed admin: %v", err)
	}
	if created {
		fmt.Println("Admin user seeded:", addr)
	} else {
		fmt.Println("Existing user promoted to admin:", addr)
	}
}

// adminEmail trims the flag value. Case is kept because accounts are looked up
// by the address exactly as it was registered.
func adminEmail(v string) string {
	return strings.TrimSpace(v)
}

// seed makes email a confirmed admin. A new account needs a password; for an
// existing one a non-empty password replaces the stored hash.
func seed(ctx context.Context, users storage.UserStore, hasher auth.Hasher, username, email, password string) (bool, error) {
	existing, err := users.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if len(password) < 6 {
			return false, errors.New("a new admin needs a password of at least 6 characters")
		}
		hash, err := hasher.Hash(password)
		if err != nil {
			return false, err
		}
		pic := avatar.Gravatar(email)
		if _, err := users.CreateUser(ctx, &models.User{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Confirmed:    true,
			Role:         models.RoleAdmin,
			Avatar:       &pic,
		}); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if _, err := users.UpdateRole(ctx, existing.ID, models.RoleAdmin); err != nil {
		return false, err
	}
	if !existing.Confirmed {
		if err := users.ConfirmUser(ctx, email); err != nil {
			return false, err
		}
	}
	if password != "" {
		hash, err := hasher.Hash(password)
		if err != nil {
			return false, err
		}
		if err := users.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return false, err
		}
	}
	return false, nil
}
