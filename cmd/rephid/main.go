// Command rephid runs the dashboard backend: the HTTP API, the
// websocket endpoint, and the Prometheus metrics surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"

	"github.com/rephi/rephi-go/jwt"
	"github.com/rephi/rephi-go/password"
	"github.com/rephi/rephi-go/server"
)

type appConfig struct {
	Addr      string        `yaml:"addr" env:"REPHID_ADDR" env-default:":4000"`
	DBPath    string        `yaml:"db_path" env:"REPHID_DB_PATH" env-default:"rephid.db"`
	RedisAddr string        `yaml:"redis_addr" env:"REPHID_REDIS_ADDR" env-default:"127.0.0.1:6379"`
	RedisDB   int           `yaml:"redis_db" env:"REPHID_REDIS_DB" env-default:"0"`
	JWTSecret string        `yaml:"jwt_secret" env:"REPHID_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"REPHID_TOKEN_TTL" env-default:"24h"`
	LogLevel  string        `yaml:"log_level" env:"REPHID_LOG_LEVEL" env-default:"info"`
}

func loadConfig(path string) (*appConfig, error) {
	cfg := &appConfig{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("REPHID_JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("REPHID_JWT_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

func main() {
	cfgPath := flag.String("config", "", "optional yaml config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "rephid:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	store, err := server.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.TokenTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.JWTSecret),
		Issuer:        "rephid",
	})
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}

	srv, err := server.New(server.Config{
		Store:         store,
		Sessions:      server.NewSessionRegistry(rdb, "rephi"),
		Tokens:        tokens,
		Hasher:        hasher,
		Logger:        logger,
		Metrics:       server.NewMetrics(),
		TokenTTL:      cfg.TokenTTL,
		RehashOnLogin: true,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
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
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
