package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"github.com/geminigate/geminigate/cache"
	"github.com/geminigate/geminigate/config"
	"github.com/geminigate/geminigate/dispatch"
	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/keypool"
	"github.com/geminigate/geminigate/monitor"
	"github.com/geminigate/geminigate/server"
	"github.com/geminigate/geminigate/translate"
)

func main() {
	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	// Initialize the gateway components.
	pool := keypool.New(keypool.Options{
		Keys:          cfg.GeminiAPIKeys,
		CoolingPeriod: cfg.CoolingPeriod,
		MaxRetries:    cfg.MaxRetries,
	})
	errs := monitor.NewErrors()
	translator := translate.New(translate.Options{})
	dispatcher := dispatch.New(dispatch.Options{
		Pool:       pool,
		Upstream:   gemini.NewClient(gemini.ClientOptions{}),
		Translator: translator,
		Monitor:    errs,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.RequestTimeout,
	})

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf(ctx, err, "invalid DATABASE_REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The in-memory tiers still serve; Redis is best-effort.
			log.Warnf(ctx, "redis unreachable, continuing with in-memory cache only: %s", err)
		}
	}

	svc := server.New(server.Options{
		Config:     cfg,
		Pool:       pool,
		Dispatcher: dispatcher,
		Translator: translator,
		Cache: cache.New(cache.Options{
			Enabled:   cfg.CacheEnabled,
			MaxSize:   cfg.CacheMaxSize,
			TTL:       cfg.CacheTTL,
			KeyPrefix: cfg.CacheKeyPrefix,
			Redis:     rdb,
		}),
		Errors: errs,
		Perf:   monitor.NewPerformance(),
	})

	var handler http.Handler = svc.Handler()
	if strings.EqualFold(cfg.LogLevel, "debug") {
		// Log query and response bodies if debug logs are enabled.
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	if cfg.Insecure() {
		log.Warnf(ctx, "no adapter API keys configured: accepting unauthenticated requests")
	}
	summary := pool.Summary()
	log.Print(ctx, log.KV{K: "msg", V: "starting"},
		log.KV{K: "addr", V: cfg.Addr()},
		log.KV{K: "keys", V: summary.Total},
		log.KV{K: "environment", V: cfg.Environment})

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: handler, ReadHeaderTimeout: time.Second * 60}
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", cfg.Addr())
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", cfg.Addr())

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Printf(ctx, "exited")
}
