// oidcd runs the demonstration OIDC identity provider. All configuration
// comes from the environment; see server.ConfigFromEnv. Clients and members
// are seeded in-process since the provider is a demonstration, not a user
// management system.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/oidcdemo/provider/provider"
	"github.com/oidcdemo/provider/server"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "oidcd",
		Level: hclog.LevelFromString(os.Getenv("LOG_LEVEL")),
	})

	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	cfg := server.ConfigFromEnv()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.SetDefaults()

	keys, err := provider.NewKeyMaterial(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
	if err != nil {
		return err
	}
	logger.Info("loaded signing key", "kid", keys.KeyID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	clients, err := seedClients()
	if err != nil {
		return err
	}
	members, err := seedMembers()
	if err != nil {
		return err
	}

	codec, err := provider.NewCodec(keys, cfg.Issuer)
	if err != nil {
		return err
	}
	flow, err := provider.NewFlow(clients, members, store, codec)
	if err != nil {
		return err
	}

	s, err := server.New(cfg, flow, keys, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "issuer", cfg.Issuer)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newStore(ctx context.Context, cfg *server.Config, logger hclog.Logger) (provider.Store, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory store; sessions will not survive a restart")
		return provider.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	store, err := provider.NewRedisStore(ctx, client)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return store, nil
}

func seedClients() (*provider.InmemClientRegistry, error) {
	clients := provider.NewInmemClientRegistry()
	for _, c := range []*provider.Client{
		{
			ClientID:     "demo-app",
			Name:         "Demo SPA",
			RedirectURIs: []string{"http://localhost:3100/auth/callback"},
			Scope:        "openid profile email phone",
			Public:       true,
		},
		{
			ClientID:     "confidential-client",
			ClientSecret: provider.ClientSecret(envOr("CONFIDENTIAL_CLIENT_SECRET", "confidential-client-secret")),
			Name:         "Demo Web App",
			RedirectURIs: []string{"http://localhost:3200/auth/callback"},
			Scope:        "openid profile email",
		},
	} {
		if err := clients.Register(c); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

func seedMembers() (*provider.InmemMemberStore, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(envOr("DEMO_MEMBER_PASSWORD", "password123")), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	members := provider.NewInmemMemberStore()
	for _, m := range []*provider.Member{
		{
			ID:              1,
			Email:           "taro@example.com",
			PasswordHash:    string(hash),
			Name:            "Taro Yamada",
			EmailVerified:   true,
			GivenName:       "Taro",
			FamilyName:      "Yamada",
			GivenNameKana:   "タロウ",
			GivenNameKanji:  "太郎",
			FamilyNameKana:  "ヤマダ",
			FamilyNameKanji: "山田",
			PhoneNumber:     "+81-90-1234-5678",
			PhoneVerified:   true,
		},
		{
			ID:            2,
			Email:         "hanako@example.com",
			PasswordHash:  string(hash),
			Name:          "Hanako Suzuki",
			EmailVerified: true,
			GivenName:     "Hanako",
			FamilyName:    "Suzuki",
		},
	} {
		if err := members.Add(m); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
