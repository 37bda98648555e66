// Command seed creates a user directly in the Sentinel AI database, bypassing
// the API so an operator can bootstrap the first admin account before any
// login is possible. It lives inside the main module so it can reach
// internal/* packages directly.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --email admin@example.com \
//	  --password changeme \
//	  --name "Admin User" \
//	  --role admin
//
// Environment variables:
//
//	SENTINEL_DB_DSN      SQLite file path; the seed tool always uses the sqlite driver (default: ./sentinel.db)
//	SENTINEL_SECRET_KEY  Master encryption key — must match the value the server uses
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "User email (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	name := flag.String("name", "Admin User", "Display name")
	role := flag.String("role", "admin", "Role: admin, manager, or analyst")
	supervisor := flag.String("supervisor-id", "", "Supervisor UUID (required for role=analyst; ignored otherwise)")
	flag.Parse()

	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}
	if *role != "admin" && *role != "manager" && *role != "analyst" {
		return fmt.Errorf("--role must be 'admin', 'manager', or 'analyst'")
	}
	var supervisorID *uuid.UUID
	if *role == "analyst" {
		if *supervisor == "" {
			return fmt.Errorf("--supervisor-id is required for role=analyst")
		}
		parsed, err := uuid.Parse(*supervisor)
		if err != nil {
			return fmt.Errorf("--supervisor-id: %w", err)
		}
		supervisorID = &parsed
	}

	dsn := envOrDefault("SENTINEL_DB_DSN", "./sentinel.db")

	secretKey := os.Getenv("SENTINEL_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"SENTINEL_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted password will be unreadable at login time.",
		)
	}

	// InitEncryption must run before any DB operation so EncryptedString
	// fields are encoded correctly on write.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userRepo := repository.NewUserRepository(database)

	user := &db.User{
		Email:        *email,
		DisplayName:  *name,
		Password:     db.EncryptedString(hashed),
		Role:         *role,
		SupervisorID: supervisorID,
		IsActive:     true,
	}

	if err := userRepo.Create(context.Background(), user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("a user with email %q already exists", *email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("user created\n")
	fmt.Printf("  ID:         %s\n", user.ID)
	fmt.Printf("  Email:      %s\n", user.Email)
	fmt.Printf("  Name:       %s\n", user.DisplayName)
	fmt.Printf("  Role:       %s\n", user.Role)
	if user.SupervisorID != nil {
		fmt.Printf("  Supervisor: %s\n", *user.SupervisorID)
	}

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
