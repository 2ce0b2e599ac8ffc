// Package app opens the storage and cache backends chosen by configuration.
// Both binaries share it so the server and the CLI see the same data.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"trumi/inventory/internal/cache"
	"trumi/inventory/internal/config"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
	"trumi/inventory/internal/store/memory"
	pgstore "trumi/inventory/internal/store/postgres"
	sqlitestore "trumi/inventory/internal/store/sqlite"
)

var ErrAdminPasswordRequired = errors.New("ADMIN_PASSWORD must be set to bootstrap an empty user table")

// Backends are the opened dependencies plus whatever must be closed on exit.
type Backends struct {
	Repo    store.Repository
	Summary cache.SummaryCache
	closers []func() error
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}
	b.closers = nil
}

// Open picks postgres when DATABASE_URL is set, then sqlite, then the seeded
// in-memory store. A configured database that cannot be reached is an error;
// an unreachable redis only downgrades to the noop cache.
func Open(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{}

	repo, closeRepo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Repo = repo
	if closeRepo != nil {
		b.closers = append(b.closers, closeRepo)
	}

	if _, seeded := repo.(*memory.Store); !seeded {
		if err := EnsureAdmin(ctx, repo, cfg.AdminPassword); err != nil {
			b.Close()
			return nil, err
		}
	}

	b.Summary = cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			b.Summary = redisCache
			b.closers = append(b.closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}
	return b, nil
}

func OpenRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		log.Info().Msg("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		db, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
		return db, db.Close, nil
	default:
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// EnsureAdmin creates the "admin" login when the user table is empty.
func EnsureAdmin(ctx context.Context, users store.UserRepository, password string) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if len(password) < 8 {
		return ErrAdminPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := users.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.Info().Msg("bootstrapped admin user")
	return nil
}
