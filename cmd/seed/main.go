// seed inserts development accounts for local testing: an admin and a buyer, both confirmed.
// Idempotent: an account whose email already exists is left as is.
package main

import (
	"context"
	"time"

	"pharma/backend/internal/config"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/security"
	"pharma/backend/internal/storage"
	userdomain "pharma/backend/internal/user/domain"
)

const (
	devPassword  = "password123"
	devAdminID   = "dev-admin-001"
	devAdminMail = "admin@example.com"
	devBuyerID   = "dev-buyer-001"
	devBuyerMail = "buyer@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := storage.Open(ctx, cfg.DatabaseURL, cfg.StoreTimeoutDuration(), cfg.IsProduction())
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: open store")
	}
	defer backend.Close()

	hasher := security.NewHasher(cfg.BcryptCost)
	digest, err := hasher.Hash(devPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: hash password")
	}

	now := time.Now().UTC()
	users := []*userdomain.User{
		{ID: devAdminID, FirstName: "Dev", LastName: "Admin", Email: devAdminMail, PasswordHash: digest, Role: userdomain.RoleAdmin, Status: userdomain.UserStatusActive, CreatedAt: now},
		{ID: devBuyerID, FirstName: "Dev", LastName: "Buyer", Email: devBuyerMail, PasswordHash: digest, Role: userdomain.RoleBuyer, Status: userdomain.UserStatusActive, CreatedAt: now},
	}
	for _, u := range users {
		created, err := ensureUser(ctx, backend, u)
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("seed: create user")
		}
		if created {
			logger.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("seed: user created")
		} else {
			logger.Info().Str("email", u.Email).Msg("seed: user exists, skipped")
		}
	}
	logger.Info().Str("password", "(dev default)").Msg("seed: done")
}

func ensureUser(ctx context.Context, b *storage.Backend, u *userdomain.User) (bool, error) {
	created := false
	err := b.Tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := b.Users.GetByEmail(ctx, u.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		if err := u.Validate(); err != nil {
			return err
		}
		created = true
		return b.Users.Create(ctx, u)
	})
	return created, err
}
