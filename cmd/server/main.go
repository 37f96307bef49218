package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/ban"
	"github.com/TheRealMkadmi/citadel/bantrie"
	"github.com/TheRealMkadmi/citadel/burstiness"
	"github.com/TheRealMkadmi/citadel/config"
	"github.com/TheRealMkadmi/citadel/firewall"
	"github.com/TheRealMkadmi/citadel/gateway"
	"github.com/TheRealMkadmi/citadel/logging"
	"github.com/TheRealMkadmi/citadel/store"
)

// Dependency injection composition root
func main() {
	logLevel := flag.String("loglevel", "info", "sets log level. Can be one of: debug, info, warn, error, fatal, panic.")
	configPath := flag.String("config", "", "if set, load configuration from the given yaml file instead of using defaults")
	addr := flag.String("addr", "", "if set, overrides the listen address from the configuration")
	flag.Parse()

	loglevel, _ := zerolog.ParseLevel(*logLevel)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(loglevel).With().Timestamp().Caller().Logger()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load configuration")
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	st := newStore(logger, cfg.Store)

	trie := bantrie.New(logger, st, cfg.Ban.TriePrefix)
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), time.Minute)
	if err := trie.SeedOnce(seedCtx, cfg.Ban.SeedRanges); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed ban trie")
	}
	cancelSeed()

	banManager := ban.NewManager(logger, st, trie, cfg.Ban.KeyPrefix)

	metrics := gateway.NewMetrics(prometheus.DefaultRegisterer)
	resultsLogger := metrics.WrapResultsLogger(logging.NewZerologResultsLogger(logger))

	detector := burstiness.New(logger, st, cfg.BurstinessConfig())

	engine, err := firewall.NewEngine(logger, st, banManager, banManager, resultsLogger, []firewall.Analyzer{detector}, cfg.EngineConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create firewall engine")
	}

	app := http.NewServeMux()
	app.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	protected := gateway.Middleware(logger, engine, metrics, cfg.Server.FingerprintHeader, app)

	admin := http.NewServeMux()
	admin.Handle("/", gateway.NewAdminRouter(logger, banManager))
	admin.Handle("/metrics", promhttp.Handler())

	appServer := &http.Server{Addr: cfg.Server.Addr, Handler: protected}
	adminServer := &http.Server{Addr: cfg.Server.AdminAddr, Handler: admin}

	go func() {
		logger.Info().Str("addr", cfg.Server.AdminAddr).Msg("admin API listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("firewall gateway listening")
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
}

func newStore(logger zerolog.Logger, cfg config.Store) store.Store {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  time.Duration(cfg.Redis.DialTimeoutMs) * time.Millisecond,
			ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutMs) * time.Millisecond,
			WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutMs) * time.Millisecond,
		})
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis store backend")
		return store.NewRedis(client)
	case "memory", "":
		logger.Info().Msg("using in-memory store backend")
		return store.NewMemory()
	default:
		logger.Fatal().Str("backend", cfg.Backend).Msg("unknown store backend")
		return nil
	}
}
