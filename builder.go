package tokenauth

import (
	"errors"
	"strings"

	"github.com/bigtreetc/tokenauth/internal/rate"
	"github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	provider AuthenticationProvider
	logger   zerolog.Logger
	clock    Clock

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		clock:  systemClock{},
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the refresh-token store and the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProvider sets the credential source consulted at login.
func (b *Builder) WithProvider(p AuthenticationProvider) *Builder {
	b.provider = p
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source used for token issuance and verification.
func (b *Builder) WithClock(c Clock) *Builder {
	if c != nil {
		b.clock = c
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("authentication provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger.With().Str("component", "tokenauth").Logger()
	for _, w := range cfg.Lint().BySeverity(LintWarn) {
		logger.Warn().Str("code", w.Code).Str("severity", w.Severity.String()).Msg(w.Message)
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		Algorithm:  jwt.Algorithm(strings.ToUpper(cfg.JWT.Algorithm)),
		SigningKey: cloneBytes(cfg.JWT.SigningKey),
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
		Now:        b.clock.Now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		provider:   b.provider,
		jwtManager: jm,
		sessionStore: session.NewStore(
			b.redis,
			cfg.Refresh.RedisPrefix,
			b.logger,
			session.WithRevokeOnReuse(cfg.Refresh.RevokeOnReuse),
			session.WithClock(b.clock.Now),
		),
		metrics: NewMetrics(cfg.Metrics),
		clock:   b.clock,
		logger:  logger,
	}

	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
			Prefix:           cfg.Refresh.RedisPrefix + "rl:",
		})
	}

	engine.initFlows()
	b.built = true

	return engine, nil
}
