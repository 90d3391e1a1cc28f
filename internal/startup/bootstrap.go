// Package startup provides utilities for service initialization including
// schema migration and seeding of operator accounts.
package startup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
)

// Migrator applies pending schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// SeedUser is one entry of the seed users file.
type SeedUser struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active *bool  `json:"active,omitempty"`
}

// Bootstrapper prepares the relational store before the server accepts traffic.
type Bootstrapper struct {
	config   *config.Config
	migrator Migrator
	repo     repository.Repository
	logger   *logrus.Logger
}

// NewBootstrapper creates a bootstrapper. migrator may be nil.
func NewBootstrapper(
	cfg *config.Config,
	migrator Migrator,
	repo repository.Repository,
	logger *logrus.Logger,
) *Bootstrapper {
	return &Bootstrapper{
		config:   cfg,
		migrator: migrator,
		repo:     repo,
		logger:   logger,
	}
}

// Run migrates the schema when enabled, then seeds the bootstrap super admin and
// the seed users file. Seeding never modifies users created by the back-office,
// except that the bootstrap address is always promoted and reactivated.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if b.config.Database.AutoMigrate && b.migrator != nil {
		if err := b.migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	if email := b.config.Auth.BootstrapAdminEmail; email != "" {
		if err := b.ensureSuperAdmin(ctx, email); err != nil {
			return err
		}
	}

	if path := b.config.Auth.SeedUsersPath; path != "" {
		if err := b.seedFromFile(ctx, path); err != nil {
			b.logger.WithError(err).Error("Failed to seed users from file")
			return err
		}
	}

	return nil
}

func (b *Bootstrapper) ensureSuperAdmin(ctx context.Context, email string) error {
	log := b.logger.WithField("email", email)

	user, err := b.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		if _, err := b.repo.CreateUser(ctx, email, models.RoleSuperAdmin, true); err != nil {
			return fmt.Errorf("failed to create bootstrap admin: %w", err)
		}
		log.Info("Bootstrap super admin created")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	if user.Role != models.RoleSuperAdmin {
		if err := b.repo.SetUserRole(ctx, email, models.RoleSuperAdmin); err != nil {
			return fmt.Errorf("failed to promote bootstrap admin: %w", err)
		}
		log.WithField("previous_role", user.Role).Warn("Bootstrap admin promoted to SUPER_ADMIN")
	}
	if !user.IsActive {
		if err := b.repo.SetUserActive(ctx, email, true); err != nil {
			return fmt.Errorf("failed to reactivate bootstrap admin: %w", err)
		}
		log.Warn("Bootstrap admin reactivated")
	}
	return nil
}

// validateSeedPath validates the seed path to prevent directory traversal attacks.
func validateSeedPath(seedPath string) error {
	cleanPath := filepath.Clean(seedPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in seed path")
	}

	if filepath.IsAbs(cleanPath) {
		if err := validateAbsolutePath(cleanPath); err != nil {
			return err
		}
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("seed file must be a JSON file")
	}

	return nil
}

// validateAbsolutePath checks if absolute path is in allowed directories.
func validateAbsolutePath(cleanPath string) error {
	allowedPrefixes := []string{
		"/app/configs/",
		"/etc/harmonie/",
	}

	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(cleanPath, prefix) {
			return nil
		}
	}

	// For development, also allow configs/ directory in current working directory
	cwd, err := os.Getwd()
	if err == nil {
		configsDir := filepath.Join(cwd, "configs")
		if strings.HasPrefix(cleanPath, configsDir+string(filepath.Separator)) {
			return nil
		}
	}

	return errors.New("absolute paths not allowed outside of permitted directories")
}

func (b *Bootstrapper) seedFromFile(ctx context.Context, seedPath string) error {
	if err := validateSeedPath(seedPath); err != nil {
		return fmt.Errorf("invalid seed path: %w", err)
	}

	// #nosec G304 - seedPath is validated above to prevent directory traversal
	raw, err := os.ReadFile(seedPath)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.WithField("seed_path", seedPath).Warn("Seed users file not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read seed users file: %w", err)
	}

	var users []SeedUser
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("failed to parse seed users file: %w", err)
	}

	created := 0
	for _, seed := range users {
		role := models.ParseRole(seed.Role)
		if role == "" {
			role = models.RoleMusician
		}
		active := seed.Active == nil || *seed.Active

		_, err := b.repo.CreateUser(ctx, seed.Email, role, active)
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			continue
		case err != nil:
			b.logger.WithError(err).WithField("email", seed.Email).Error("Failed to seed user")
			continue
		}
		created++
	}

	b.logger.WithFields(logrus.Fields{
		"seed_path": seedPath,
		"listed":    len(users),
		"created":   created,
	}).Info("Seed users processed")
	return nil
}
