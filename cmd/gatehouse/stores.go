package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

type closer struct {
	name string
	fn   observability.ShutdownFunc
}

// stores are the persistence backends selected by configuration
type stores struct {
	identities identity.Store
	invites    identity.InviteLedger
	sessions   session.Store
	audit      auth.AuditSink // nil when audit events are only logged

	db    *sql.DB       // nil on in-memory storage
	redis *redis.Client // nil unless sessions live in Redis

	closers []closer
}

func openStores(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*stores, error) {
	st := &stores{}

	switch cfg.Storage.Type {
	case "postgres":
		cm, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		cm.StartHealthCheckRoutine(ctx, 30*time.Second, metrics)

		ledger := postgres.NewInviteLedger(cm, cfg.Auth.InviteValidity)
		st.identities = postgres.NewIdentityStore(cm)
		st.invites = ledger
		st.audit = postgres.NewAuditStore(cm)
		st.db = cm.Primary()

		purge := cron.New()
		if _, err := purge.AddFunc(cfg.Session.PurgeSchedule, func() {
			defer observability.RecoverPanic(logger, "invitation purge")
			n, err := ledger.PurgeExpired(context.Background())
			if err != nil {
				logger.WithError(err).Warn("Failed to purge expired invitations")
				return
			}
			if n > 0 {
				logger.WithField("purged", n).Debug("Expired invitations purged")
			}
		}); err != nil {
			cm.Close()
			return nil, fmt.Errorf("invalid purge schedule %q: %w", cfg.Session.PurgeSchedule, err)
		}
		purge.Start()

		st.closers = append(st.closers,
			closer{"database", func(context.Context) error { return cm.Close() }},
			closer{"invitation-purge", func(ctx context.Context) error {
				select {
				case <-purge.Stop().Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}},
		)
		logger.Info("Using PostgreSQL identity store")

	default:
		st.identities = identity.NewMemoryStore()
		st.invites = identity.NewMemoryInviteLedger()
		logger.Warn("Using in-memory identity store; accounts are lost on restart")
	}

	switch cfg.Session.Store {
	case "redis":
		client, err := session.NewRedisClient(ctx, session.RedisOptions{
			URL:      cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			PoolSize: cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			st.close(ctx)
			return nil, err
		}
		st.redis = client
		st.sessions = session.NewRedisStore(client)
		st.closers = append(st.closers, closer{"redis", func(context.Context) error { return client.Close() }})
		logger.Info("Using Redis session store")

	default:
		mem, err := session.NewMemoryStore(cfg.Session.MemoryMaxSize, logger, metrics)
		if err != nil {
			st.close(ctx)
			return nil, err
		}
		if err := mem.StartPurge(cfg.Session.PurgeSchedule); err != nil {
			st.close(ctx)
			return nil, err
		}
		st.sessions = mem
		st.closers = append(st.closers, closer{"session-purge", mem.Stop})
	}

	return st, nil
}

// close releases whatever was opened so far
func (st *stores) close(ctx context.Context) {
	for i := len(st.closers) - 1; i >= 0; i-- {
		_ = st.closers[i].fn(ctx)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*postgres.ConnectionManager, error) {
	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.Storage.PostgresURL,
		MaxConns:   cfg.Storage.PostgresMaxConns,
		MinConns:   cfg.Storage.PostgresMinConns,
		Timeout:    cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Storage.AutoMigrate {
		applied, err := postgres.Migrate(ctx, cm.Primary(), postgres.DialectPostgres)
		if err != nil {
			cm.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if applied > 0 {
			logger.WithField("applied", applied).Info("Database migrations applied")
		}
	}
	return cm, nil
}

// createAdmin provisions a local super-admin. It needs durable storage: an
// account created in memory would vanish with the process.
func createAdmin(ctx context.Context, cfg *config.Config, logger *observability.Logger, email, password string) error {
	if cfg.Storage.Type != "postgres" {
		return errors.New("-create-admin requires GATEHOUSE_STORAGE_TYPE=postgres")
	}
	if password == "" {
		return errors.New("an admin password is required")
	}

	cm, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	account, err := postgres.NewIdentityStore(cm).AddLocalAccount(ctx, email, "", password,
		identity.StateActivated, identity.RoleUser, identity.RoleAdmin, identity.RoleSuperAdmin)
	if err != nil {
		return err
	}

	logger.WithField("account_id", account.ID).WithField("email", account.Email).Info("Admin account created")
	return nil
}

// createInvite records an invitation and returns the token to send the invitee
func createInvite(ctx context.Context, cfg *config.Config, logger *observability.Logger, email, tenant string) (string, error) {
	if cfg.Storage.Type != "postgres" {
		return "", errors.New("-invite requires GATEHOUSE_STORAGE_TYPE=postgres")
	}

	cm, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return "", err
	}
	defer cm.Close()

	token, err := postgres.NewInviteLedger(cm, cfg.Auth.InviteValidity).Invite(ctx, strings.TrimSpace(email), tenant)
	if err != nil {
		return "", err
	}

	logger.WithField("email", email).WithField("tenant", tenant).Info("Invitation created")
	return token, nil
}
