// Package app wires configuration, storage, the engine and the HTTP router
// into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/api"
	"github.com/bigtreetc/tokenauth/metrics/export/prometheus"
	"github.com/bigtreetc/tokenauth/provider"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App owns every long-lived resource of the server.
type App struct {
	config  *Config
	logger  zerolog.Logger
	engine  *tokenauth.Engine
	handler http.Handler

	redis    redis.UniversalClient
	embedded *miniredis.Miniredis
	sql      *provider.SQLProvider
}

// New connects to Redis and the credential store and builds the engine and
// router. Close releases everything New opened, including on error paths.
func New(ctx context.Context, cfg *Config, logger zerolog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.openRedis(ctx); err != nil {
		return err
	}

	authProvider, err := a.openProvider(ctx)
	if err != nil {
		return err
	}

	a.engine, err = tokenauth.New().
		WithConfig(a.config.Auth).
		WithRedis(a.redis).
		WithProvider(authProvider).
		WithLogger(a.logger).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	a.handler = api.NewRouter(a.engine, api.Options{
		Logger:       a.logger,
		MaxBodyBytes: a.config.Server.MaxBodyBytes,
		Metrics:      prometheus.New(a.engine).Handler(),
	})
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc := a.config.Redis
	addr := rc.Addr

	if rc.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("embedded redis: %w", err)
		}
		a.embedded = mr
		addr = mr.Addr()
		a.logger.Warn().Str("addr", addr).Msg("using embedded redis; sessions are lost on restart")
	}

	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return nil
}

func (a *App) openProvider(ctx context.Context) (tokenauth.AuthenticationProvider, error) {
	cfg := a.config

	if !cfg.Database.Enabled() {
		p, err := provider.NewStatic(cfg.Users, provider.StaticOptions{
			AllowPlaintext: tokenauth.IsLocalOrTest(cfg.Auth.Profile),
		})
		if err != nil {
			return nil, fmt.Errorf("static users: %w", err)
		}
		a.logger.Info().Int("users", len(p.Usernames())).Msg("using static credential store")
		return p, nil
	}

	p, err := provider.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN, a.logger)
	if err != nil {
		return nil, err
	}
	a.sql = p

	if cfg.Database.Migrate {
		if err := p.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	if err := a.seed(ctx); err != nil {
		return nil, err
	}

	a.logger.Info().Str("driver", cfg.Database.Driver).Msg("using sql credential store")
	return p, nil
}

// seed inserts configured users into the SQL store. The email is the login
// name there, so a user without one logs in with its username.
func (a *App) seed(ctx context.Context) error {
	for _, u := range a.config.Users {
		email := u.Email
		if email == "" {
			email = u.Username
		}
		pw := u.PasswordHash
		if pw == "" {
			pw = u.Password
		}

		_, err := a.sql.CreateStaff(ctx, provider.Staff{
			Email:     email,
			Password:  pw,
			FirstName: u.DisplayName,
			Roles:     u.Roles,
		})
		switch {
		case err == nil:
			a.logger.Info().Str("email", email).Msg("seeded staff account")
		case errors.Is(err, provider.ErrStaffExists):
		default:
			return fmt.Errorf("seeding %s: %w", email, err)
		}
	}
	return nil
}

// Engine returns the wired engine.
func (a *App) Engine() *tokenauth.Engine {
	return a.engine
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Server returns an http.Server listening on the configured address.
func (a *App) Server() *http.Server {
	sc := a.config.Server
	return &http.Server{
		Addr:         sc.Addr,
		Handler:      a.handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
}

// Close releases the Redis client, the database and the embedded Redis.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.sql != nil {
		errs = append(errs, a.sql.Close())
	}
	if a.embedded != nil {
		a.embedded.Close()
	}
	return errors.Join(errs...)
}
