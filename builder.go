package authcore

import (
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finchsec/authcore/internal/stores"
	"github.com/finchsec/authcore/password"
)

// Builder assembles an [Engine]. A credential store and a Redis client are
// required; everything else has defaults.
//
//	engine, err := authcore.New().
//		WithCredentialStore(store).
//		WithRedis(rdb).
//		Build()
type Builder struct {
	config    *Config
	redis     redis.UniversalClient
	store     CredentialStore
	auditSink AuditSink
	logger    zerolog.Logger
	hasLogger bool
	clock     func() time.Time
}

// New starts a builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig overrides defaults. Sections left at their zero value keep the
// default for that section.
func (b *Builder) WithConfig(cfg Config) *Builder {
	c := cloneConfig(cfg)
	b.config = &c
	return b
}

// WithRedis sets the Redis client backing reset tokens, setup sessions and
// session revocation.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the caller's account backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithAuditSink sets the sink receiving audit events. Ignored unless
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the diagnostic logger. Without it the engine is silent.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.hasLogger = true
	return b
}

// WithClock overrides the time source. For tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and returns a ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, errors.New("credential store is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}

	cfg := defaultConfig()
	if b.config != nil {
		cfg = mergeConfig(cfg, *b.config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.HashConfig{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	// Hashing a throwaway password once gives the login path something to
	// verify against when the email is unknown, keeping response timing
	// close to the known-email case.
	dummyHash, err := hasher.Hash("authcore-dummy-credential")
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	logger := zerolog.Nop()
	if b.hasLogger {
		logger = b.logger
	}

	lockCache := ttlcache.New[string, time.Time](
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go lockCache.Start()

	e := &Engine{
		config:        cfg,
		store:         b.store,
		hasher:        hasher,
		dummyHash:     dummyHash,
		policy:        password.NewPolicy(password.PolicyConfig(cfg.Policy)),
		totp:          newTOTPManager(cfg.TOTP),
		backoff:       newBackoffPolicy(cfg.Backoff),
		resetTokens:   stores.NewResetTokenStore(b.redis, cfg.PasswordReset.RedisPrefix, cfg.PasswordReset.Retention),
		setupSessions: stores.NewSetupSessionStore(b.redis, cfg.SetupSession.RedisPrefix),
		lockCache:     lockCache,
		redis:         b.redis,
		metrics:       newMetrics(cfg.Metrics),
		audit:         newAuditDispatcher(cfg.Audit, b.auditSink),
		log:           logger,
		now:           clock,
	}
	e.sessions = newSessionManager(cfg.Session, stores.NewSessionStore(b.redis, cfg.Session.RedisPrefix), clock)

	return e, nil
}

// mergeConfig overlays non-zero sections of override onto base.
func mergeConfig(base, override Config) Config {
	out := base

	if override.Policy != (PolicyConfig{}) {
		out.Policy = override.Policy
	}
	if override.Password != (PasswordConfig{}) {
		out.Password = override.Password
	}
	if override.TOTP != (TOTPConfig{}) {
		out.TOTP = override.TOTP
	}
	if override.RecoveryCodes != (RecoveryCodeConfig{}) {
		out.RecoveryCodes = override.RecoveryCodes
	}
	if len(override.Backoff.Tiers) > 0 {
		out.Backoff = override.Backoff
	}
	if override.PasswordReset != (PasswordResetConfig{}) {
		out.PasswordReset = override.PasswordReset
	}
	if override.SetupSession != (SetupSessionConfig{}) {
		out.SetupSession = override.SetupSession
	}
	if override.Session.Enabled || len(override.Session.SigningKey) > 0 {
		out.Session = override.Session
		if out.Session.TTL == 0 {
			out.Session.TTL = base.Session.TTL
		}
		if out.Session.RedisPrefix == "" {
			out.Session.RedisPrefix = base.Session.RedisPrefix
		}
	}
	if override.Audit != (AuditConfig{}) {
		out.Audit = override.Audit
	}
	if override.Metrics.Enabled {
		out.Metrics = override.Metrics
	}

	return out
}
