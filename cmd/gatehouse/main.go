package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/notify"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	adminEmail := flag.String("create-admin", "", "Create a local super-admin account with this email and exit")
	adminPassword := flag.String("admin-password", "", "Password for -create-admin (defaults to $GATEHOUSE_ADMIN_PASSWORD)")
	inviteEmail := flag.String("invite", "", "Invite this email address, print the invitation token and exit")
	inviteTenant := flag.String("invite-tenant", "", "Tenant for -invite (empty for single-tenant deployments)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if *adminEmail != "" {
		password := *adminPassword
		if password == "" {
			password = os.Getenv("GATEHOUSE_ADMIN_PASSWORD")
		}
		if err := createAdmin(context.Background(), cfg, logger, *adminEmail, password); err != nil {
			logger.WithError(err).Error("Failed to create admin account")
			os.Exit(1)
		}
		return
	}

	if *inviteEmail != "" {
		token, err := createInvite(context.Background(), cfg, logger, *inviteEmail, *inviteTenant)
		if err != nil {
			logger.WithError(err).Error("Failed to create invitation")
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatehouse exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		metrics.ForwardTo(otelMetrics)
	}

	st, err := openStores(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	notifier := notify.Notifier(notify.NewLogNotifier(logger))
	if cfg.Notify.WebhookURL != "" {
		notifier, err = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:    cfg.Notify.WebhookURL,
			Secret: cfg.Notify.WebhookSecret,
			Retry:  notify.RetryConfig{MaxAttempts: cfg.Notify.MaxAttempts},
			Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		})
		if err != nil {
			return fmt.Errorf("failed to configure notification webhook: %w", err)
		}
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Notify.Timeout, logger, metrics)

	providers, err := sso.NewRegistry(cfg.Providers, sso.RegistryOptions{
		BaseURL:         cfg.Server.BaseURL,
		RelativeURLRoot: cfg.Server.RelativeURLRoot,
		Production:      cfg.Server.Production(),
		AllowUserSignup: cfg.Auth.AllowUserSignup,
		HTTPClient: &http.Client{
			Timeout:   cfg.Auth.CallTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	opts := auth.Options{
		MultiTenant:          cfg.Auth.MultiTenant,
		Policy:               cfg.Auth.Policy,
		NotificationsEnabled: cfg.Auth.EmailNotifications,
		CallTimeout:          cfg.Auth.CallTimeout,
		Logger:               logger,
		Metrics:              metrics,
	}
	resolver := tenant.NewResolver(cfg.Auth.MultiTenant, cfg.Auth.TenantBaseDomain)
	sessions := session.NewManager(st.sessions, cfg.Session.TTL, logger, metrics)

	service := auth.NewService(auth.ServiceConfig{
		Credentials:   auth.NewCredentialAuthenticator(st.identities, opts),
		Federated:     auth.NewFederatedLoginOrchestrator(st.identities, st.invites, resolver, dispatcher, opts),
		Providers:     providers,
		Sessions:      sessions,
		Resolver:      resolver,
		Paths:         auth.NewPaths(cfg.Server.RelativeURLRoot),
		SecureCookies: cfg.Session.CookieSecure,
		Options:       opts,
	})

	var limiter middleware.Limiter
	if cfg.Auth.LoginRateLimit > 0 {
		limits := middleware.LoginRateLimitConfig(cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst)
		if st.redis != nil {
			limiter = middleware.NewDistributedRateLimiter(st.redis, limits, "")
		} else {
			local := middleware.NewRateLimiter(limits)
			local.StartCleanup(ctx, logger)
			limiter = local
		}
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{
		Service:  service,
		Audit:    auth.NewAuditLogger(logger, st.audit),
		Sessions: sessions,
		Cookie: session.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			TTL:    cfg.Session.TTL,
		},
		LoginLimiter:   limiter,
		TrustedProxies: proxies,
		RelativeRoot:   cfg.Server.RelativeURLRoot,
		Logger:         logger,
		Metrics:        metrics,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "gatehouse"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(st.db, st.redis, version)
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	for _, c := range st.closers {
		shutdown.RegisterShutdownFunc(c.name, c.fn)
	}
	shutdown.RegisterShutdownFunc("notifications", dispatcher.Shutdown)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":      httpServer.Addr,
			"providers": providers.Enabled(),
			"policy":    string(cfg.Auth.Policy),
		}).Info("Gatehouse listening")
		return serve(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health and metrics listening")
		return serve(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

// serve runs srv until it is shut down
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", srv.Addr, err)
	}
	return nil
}
