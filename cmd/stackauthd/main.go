// Command stackauthd runs the auth core as a standalone HTTP service.
// Projects, provider credentials and signing keys are wired from the
// environment; storage is SQLite by default and Postgres when the
// database URL says so.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/httpapi"
	"github.com/yonasBSD/stack-sub000/oauthflow"
	gormstore "github.com/yonasBSD/stack-sub000/stores/gorm"
	"github.com/yonasBSD/stack-sub000/tokens"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := stackauth.ConfigFromEnv()
	if err != nil {
		return err
	}

	store, err := gormstore.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	signingKey, err := tokens.GenerateKey("primary", false)
	if err != nil {
		return err
	}
	anonKey, err := tokens.GenerateKey("primary-anon", true)
	if err != nil {
		return err
	}
	codec, err := tokens.NewCodec(cfg.Issuer, cfg.AccessTokenTTL, signingKey, anonKey)
	if err != nil {
		return err
	}

	var webhooks stackauth.WebhookEmitter = stackauth.NopWebhooks{}
	if cfg.WebhookURL != "" {
		webhooks = &stackauth.HTTPWebhooks{URL: cfg.WebhookURL, Logger: logger}
	}
	mailbox := &stackauth.ConsoleMailer{Logger: logger}

	resolver := &stackauth.Resolver{Store: store, Webhooks: webhooks, Logger: logger}
	sessions := &stackauth.Sessions{Store: store, Codec: codec, Logger: logger}

	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Stack Auth",
		RPID:          rpID(cfg.BaseURL),
		RPOrigins:     []string{cfg.BaseURL},
	})
	if err != nil {
		return err
	}

	server := &httpapi.Server{
		Store:    store,
		Projects: defaultProjects(cfg),
		Resolver: resolver,
		Sessions: sessions,
		Password: &stackauth.PasswordAuth{Store: store},
		Passkey: &stackauth.PasskeyAuth{
			Store:    store,
			WebAuthn: web,
			FlowTTL:  cfg.OAuthFlowTTL,
		},
		OTP: &stackauth.OTPAuth{
			Store:   store,
			Mailbox: mailbox,
			BaseURL: cfg.BaseURL,
			CodeTTL: cfg.OTPCodeTTL,
		},
		Channels: &stackauth.Channels{
			Store:   store,
			Mailbox: mailbox,
			BaseURL: cfg.BaseURL,
			CodeTTL: cfg.VerificationTTL,
		},
		OAuth: &oauthflow.Controller{
			Store:        store,
			Providers:    map[string]*oauthflow.Provider{},
			Resolver:     resolver,
			Sessions:     sessions,
			Codec:        codec,
			CookieSecret: []byte(cfg.CookieSecret),
			FlowTTL:      cfg.OAuthFlowTTL,
			Logger:       logger,
		},
		Codec:      codec,
		Metrics:    httpapi.NewMetrics(prometheus.DefaultRegisterer),
		Limiter:    httpapi.NewRateLimiter(1, 10),
		Logger:     logger,
		SessionTTL: cfg.SessionIdleTimeout,
	}

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", server.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// rpID derives the WebAuthn relying-party id from the service URL.
func rpID(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

// defaultProjects builds a single-project config for standalone use.
// Multi-tenant deployments replace this with a real config source.
func defaultProjects(cfg stackauth.Config) httpapi.StaticProjects {
	return httpapi.StaticProjects{
		"default": &httpapi.ProjectConfig{
			Policy: stackauth.AuthPolicy{
				AllowSignUp:             true,
				AnonymousEnabled:        true,
				PasswordEnabled:         true,
				OTPEnabled:              true,
				PasskeyEnabled:          true,
				OAuthEnabled:            true,
				MergeStrategy:           stackauth.MergeLinkMethod,
				AllowLocalhost:          true,
				PersonalTeamDefaultName: "Personal Team",
			},
			ServerKey: os.Getenv("STACK_SECRET_SERVER_KEY"),
			AdminKey:  cfg.SuperSecretAdminKey,
		},
	}
}
