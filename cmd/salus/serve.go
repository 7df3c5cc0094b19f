package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/salus/internal/audit"
	"github.com/dropDatabas3/salus/internal/cache"
	"github.com/dropDatabas3/salus/internal/config"
	"github.com/dropDatabas3/salus/internal/http/controllers"
	mw "github.com/dropDatabas3/salus/internal/http/middlewares"
	"github.com/dropDatabas3/salus/internal/http/router"
	"github.com/dropDatabas3/salus/internal/http/server"
	"github.com/dropDatabas3/salus/internal/keys"
	"github.com/dropDatabas3/salus/internal/metrics"
	"github.com/dropDatabas3/salus/internal/mfa"
	"github.com/dropDatabas3/salus/internal/notify"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/policy"
	"github.com/dropDatabas3/salus/internal/rate"
	"github.com/dropDatabas3/salus/internal/security/password"
	"github.com/dropDatabas3/salus/internal/security/secretbox"
	"github.com/dropDatabas3/salus/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path al YAML de configuración (vacío = defaults + env)")
	return cmd
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("cargar config: %w", err)
	}

	logger.Init(logger.Config{Env: cfg.App.Env})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("serve")

	// Master key ausente es un error de configuración: el proceso no
	// arranca a medias.
	if !secretbox.IsReady() {
		return secretbox.ErrMasterKeyMissing
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret es obligatorio")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── infraestructura ───

	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Postgres: store.PostgresTuning{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		},
	})
	if err != nil {
		return fmt.Errorf("abrir store: %w", err)
	}
	defer func() { _ = st.Close() }()

	cacheClient, err := cache.New(cache.Config{
		Kind:     cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("abrir cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("registrar métricas: %w", err)
	}

	// ─── services ───

	auditor := audit.NewRecorder(st.Events(), nil)

	policySvc := policy.New(policy.Deps{
		Policies: st.Policies(),
		Auditor:  auditor,
	})

	keySvc := keys.New(keys.Deps{
		Keys:    st.Keys(),
		Auditor: auditor,
	})

	sender := &notify.Dispatcher{
		Email: notify.NewSMTPSender(notify.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}),
		SMS: smsSender(cfg),
	}

	blacklist, err := password.LoadBlacklist(cfg.Security.PasswordBlacklistPath)
	if err != nil {
		return fmt.Errorf("cargar blacklist de passwords: %w", err)
	}

	mfaSvc := mfa.New(mfa.Deps{
		Configs:  st.MFAConfigs(),
		Sessions: st.Sessions(),
		Users:    st.Users(),
		Auditor:  auditor,
		Policies: policySvc,
		Cache:    cacheClient,
		Sender:   sender,
		PasswordPolicy: password.Policy{
			MinLength:     cfg.Security.PasswordPolicy.MinLength,
			RequireUpper:  cfg.Security.PasswordPolicy.RequireUpper,
			RequireLower:  cfg.Security.PasswordPolicy.RequireLower,
			RequireDigit:  cfg.Security.PasswordPolicy.RequireDigit,
			RequireSymbol: cfg.Security.PasswordPolicy.RequireSymbol,
		},
		PasswordBlacklist: blacklist,
		Settings: mfa.Settings{
			MaxAttempts:     cfg.MFA.MaxAttempts,
			LockoutDuration: config.MustDuration(cfg.MFA.LockoutDuration),
			OTPTTL:          config.MustDuration(cfg.MFA.OTPTTL),
			ResendCooldown:  config.MustDuration(cfg.MFA.ResendCooldown),
			TOTPIssuer:      cfg.MFA.TOTPIssuer,
			TOTPWindow:      uint(cfg.MFA.TOTPWindow),
			RememberTTL:     config.MustDuration(cfg.MFA.RememberTTL),
			RecoveryTTL:     config.MustDuration(cfg.MFA.RecoveryTTL),
			BackupCodeCount: cfg.MFA.BackupCodeCount,
			DevEchoOTP:      !cfg.IsProd(),
		},
	})

	// ─── HTTP ───

	ctrls := controllers.New(controllers.Deps{
		MFA:     mfaSvc,
		Keys:    keySvc,
		Policy:  policySvc,
		Auditor: auditor,
		Store:   st,
		Cache:   cacheClient,
		Version: version,
	})

	routerDeps := router.Deps{
		Controllers: ctrls,
		Auth: mw.AuthConfig{
			Secret: []byte(cfg.Auth.JWTSecret),
			Issuer: cfg.Auth.Issuer,
		},
		// Sin listener de métricas dedicado, /metrics va en el principal.
		ExposeMetrics: cfg.Server.MetricsAddr == "",
	}
	if cfg.Rate.Enabled {
		routerDeps.SetupLimiter = rate.NewFixedWindowLimiter(cacheClient, "rl:setup:",
			cfg.Rate.Setup.Limit, config.MustDuration(cfg.Rate.Setup.Window))
		routerDeps.VerifyLimiter = rate.NewFixedWindowLimiter(cacheClient, "rl:verify:",
			cfg.Rate.Verify.Limit, config.MustDuration(cfg.Rate.Verify.Window))
		routerDeps.RecoveryLimiter = rate.NewFixedWindowLimiter(cacheClient, "rl:recovery:",
			cfg.Rate.Recovery.Limit, config.MustDuration(cfg.Rate.Recovery.Window))
	}

	app := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: config.MustDuration(cfg.Server.ShutdownTimeout),
	}, router.New(routerDeps))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.Run(ctx) })

	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv := server.New(server.Config{
			Addr:            cfg.Server.MetricsAddr,
			ReadTimeout:     5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		}, metricsMux)
		g.Go(func() error { return metricsSrv.Run(ctx) })
	}

	log.Info("salus up",
		logger.String("addr", cfg.Server.Addr),
		logger.String("env", cfg.App.Env),
		logger.String("storage", cfg.Storage.Driver),
	)

	return g.Wait()
}

// smsSender elige el canal SMS: gateway real o eco a logs en dev.
func smsSender(cfg *config.Config) notify.OTPSender {
	if cfg.SMS.GatewayURL == "" {
		return notify.LogSender{}
	}
	return notify.NewSMSSender(notify.SMSConfig{
		GatewayURL: cfg.SMS.GatewayURL,
		APIKey:     cfg.SMS.APIKey,
		From:       cfg.SMS.From,
	})
}
