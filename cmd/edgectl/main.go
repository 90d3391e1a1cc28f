// Package main provides an operator CLI for the Harmonie edge service.
// It reads the same configuration as the server and talks to the same stores:
// the page cache version in Redis and the users and sessions in the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/cache"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

const commandTimeout = 30 * time.Second

// EdgeManager runs one operator action.
type EdgeManager struct {
	pages   *cache.VersionController
	repo    repository.Repository
	janitor *auth.Janitor
	out     io.Writer
}

type options struct {
	email string
	role  string
}

func main() {
	var (
		action = flag.String("action", "version",
			"Action to perform: version, invalidate, list-users, create-user, activate-user, deactivate-user, set-role, purge-sessions")
		email   = flag.String("email", "", "User email for user actions")
		role    = flag.String("role", string(models.RoleMusician), "Role for create-user and set-role")
		envFile = flag.String("env-file", ".env.local", "Optional dotenv file to load first")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("warn", "text", "stderr")

	manager, cleanup, err := connect(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := manager.Run(ctx, *action, options{email: *email, role: *role}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		cleanup()
		os.Exit(1)
	}
}

// connect opens Redis and the configured database. Unlike the server, the CLI
// never falls back to in-memory stores: changes there would be invisible.
func connect(cfg *config.Config, log *logrus.Logger) (*EdgeManager, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		return nil, nil, errors.New("edgectl needs a real database driver, not memory")
	}

	store, err := redis.NewClient(&cfg.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	dbMgr, err := database.NewManager(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	var repo repository.Repository
	if pg := dbMgr.Postgres(); pg != nil {
		repo = repository.NewPostgresRepository(pg.Pool)
	} else {
		repo = repository.NewMySQLRepository(dbMgr.MySQL().DB)
	}

	cleanup := func() {
		dbMgr.Close()
		_ = store.Close()
	}

	return &EdgeManager{
		pages:   cache.NewVersionController(store, cfg, nil, log),
		repo:    repo,
		janitor: auth.NewJanitor(repo, 0, nil, log),
		out:     os.Stdout,
	}, cleanup, nil
}

// Run performs action.
func (em *EdgeManager) Run(ctx context.Context, action string, opts options) error {
	switch action {
	case "version":
		fmt.Fprintln(em.out, em.pages.Version(ctx))
		return nil
	case "invalidate":
		tag, err := em.pages.Invalidate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(em.out, "Page cache invalidated, version is now %s\n", tag)
		return nil
	case "list-users":
		return em.listUsers(ctx)
	case "create-user":
		return em.createUser(ctx, opts)
	case "activate-user", "deactivate-user":
		if opts.email == "" {
			return errors.New("-email is required")
		}
		active := action == "activate-user"
		if err := em.repo.SetUserActive(ctx, opts.email, active); err != nil {
			return fmt.Errorf("failed to update %s: %w", opts.email, err)
		}
		fmt.Fprintf(em.out, "User %s active=%t\n", models.NormalizeEmail(opts.email), active)
		return nil
	case "set-role":
		if opts.email == "" {
			return errors.New("-email is required")
		}
		role, err := parseRole(opts.role)
		if err != nil {
			return err
		}
		if err := em.repo.SetUserRole(ctx, opts.email, role); err != nil {
			return fmt.Errorf("failed to update %s: %w", opts.email, err)
		}
		fmt.Fprintf(em.out, "User %s role=%s\n", models.NormalizeEmail(opts.email), role)
		return nil
	case "purge-sessions":
		result, err := em.janitor.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(em.out, "Deleted %d expired sessions and %d expired tokens\n", result.Sessions, result.Tokens)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

func (em *EdgeManager) createUser(ctx context.Context, opts options) error {
	if opts.email == "" {
		return errors.New("-email is required")
	}
	role, err := parseRole(opts.role)
	if err != nil {
		return err
	}

	user, err := em.repo.CreateUser(ctx, opts.email, role, true)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.email, err)
	}

	fmt.Fprintf(em.out, "User created:\n")
	printUser(em.out, user)
	return nil
}

func (em *EdgeManager) listUsers(ctx context.Context) error {
	users, err := em.repo.ListUsers(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(em.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tACTIVE\tLAST LOGIN")
	for _, u := range users {
		lastLogin := "-"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", u.ID, u.Email, u.Role, u.IsActive, lastLogin)
	}
	return tw.Flush()
}

func parseRole(s string) (models.Role, error) {
	role := models.ParseRole(s)
	switch role {
	case models.RoleMusician, models.RoleAdmin, models.RoleSuperAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func printUser(w io.Writer, user *models.User) {
	fmt.Fprintf(w, "  ID:     %d\n", user.ID)
	fmt.Fprintf(w, "  Email:  %s\n", user.Email)
	fmt.Fprintf(w, "  Role:   %s\n", user.Role)
	fmt.Fprintf(w, "  Active: %t\n", user.IsActive)
}
