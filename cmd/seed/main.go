package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/config"
	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
	pginfra "github.com/oksasatya/student-records-api/internal/infrastructure/postgres"
	"github.com/oksasatya/student-records-api/pkg/helpers"
)

var baseGroups = []string{"administrador", "maestro", "alumno"}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env)
	ctx := context.Background()

	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife)
	if err != nil {
		logger.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	email := getenv("SEED_ADMIN_EMAIL", "admin@control-escolar.local")
	password := getenv("SEED_ADMIN_PASSWORD", "password123")

	if err := seed(ctx, pginfra.NewStore(pool, logger), email, password); err != nil {
		logger.Fatalf("seed failed: %v", err)
	}
	helpers.LogInfo(logger, "seed complete", logrus.Fields{"email": email, "groups": baseGroups})
}

// seed ensures the base groups exist and that an administrator account is a
// member of the administrador group. Running it twice is harmless.
func seed(ctx context.Context, store repository.Store, email, password string) error {
	hash, err := helpers.HashPassword(password)
	if err != nil {
		return err
	}
	return store.WithTx(ctx, func(tx repository.Store) error {
		groups := make(map[string]*entity.Group, len(baseGroups))
		for _, name := range baseGroups {
			g, err := tx.Accounts().GetOrCreateGroup(ctx, name)
			if err != nil {
				return err
			}
			groups[name] = g
		}

		acc, err := tx.Accounts().GetByEmail(ctx, email)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			acc = &entity.Account{
				Username:  email,
				Email:     email,
				FirstName: "Admin",
				Password:  hash,
				IsActive:  true,
			}
			if err := tx.Accounts().Create(ctx, acc); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		return tx.Accounts().AddMember(ctx, groups["administrador"].ID, acc.ID)
	})
}
