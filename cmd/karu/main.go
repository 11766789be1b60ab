package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/auth"
	"github.com/4xmen/karu/internal/cache"
	"github.com/4xmen/karu/internal/chat"
	"github.com/4xmen/karu/internal/db"
	"github.com/4xmen/karu/internal/handlers"
	"github.com/4xmen/karu/internal/linkpreview"
	"github.com/4xmen/karu/internal/metrics"
	"github.com/4xmen/karu/internal/mongostore"
	"github.com/4xmen/karu/internal/notify"
	"github.com/4xmen/karu/internal/presence"
	"github.com/4xmen/karu/internal/registry"
	"github.com/4xmen/karu/internal/signaling"
	"github.com/4xmen/karu/internal/store"
	"github.com/4xmen/karu/internal/ws"
	"github.com/4xmen/karu/pkg/config"
	"github.com/4xmen/karu/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, log, os.Args[1:]); err != nil {
			log.Fatal("command failed", zap.Error(err))
		}
		return
	}

	if err := runServer(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func runCommand(cfg *config.Config, log *zap.Logger, args []string) error {
	switch args[0] {
	case "status":
		return runStatus(cfg, log, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  karu                 Start the realtime server")
	fmt.Fprintln(out, "  karu status          Show store and cache status")
	fmt.Fprintln(out, "  karu status --json")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite", "":
		if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		d, err := db.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openCache returns the presence cache. Redis sits behind a circuit breaker
// so an outage fails presence calls fast instead of stalling requests.
func openCache(cfg *config.Config, log *zap.Logger) (cache.Cache, error) {
	switch cfg.CacheDriver {
	case "memory", "":
		return cache.NewMemory(), nil
	case "redis":
		r := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return cache.NewBreaker(r, cache.BreakerConfig{MaxFailures: 5, Timeout: 10 * time.Second}, log), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
}

func runServer(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	kv, err := openCache(cfg, log)
	if err != nil {
		return err
	}
	defer kv.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := registry.New(m)
	tracker := presence.NewTracker(kv, st, cfg.PresenceTTL, cfg.LastSeenThrottle, log.Named("presence"))
	notifier := notify.NewService(st, st, reg, m, log.Named("notify"))
	engine := chat.NewEngine(st, notifier, reg, tracker, m, log.Named("chat"))
	relay := signaling.NewRelay(reg, st, m, log.Named("signaling"))
	tokens := auth.New(cfg.JWTSecret)
	hub := ws.NewHub(reg, tokens, tracker, relay, log.Named("ws"), splitOrigins(cfg.CORSOrigins))
	previews := linkpreview.New(kv, linkpreview.Config{
		Timeout:  cfg.LinkPreviewTimeout,
		CacheTTL: cfg.LinkPreviewCacheTTL,
	}, log.Named("linkpreview"))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(handlers.RequestLogger(log.Named("http")))
	router.Use(handlers.Recovery(log))
	router.Use(handlers.CORS(cfg.CORSOrigins))

	routes := &handlers.Routes{
		Auth:          handlers.NewAuthHandler(tokens, tracker),
		Chats:         handlers.NewChatHandler(engine, log),
		Messages:      handlers.NewMessageHandler(engine, log),
		Notifications: handlers.NewNotificationHandler(notifier, log),
		Presence:      handlers.NewPresenceHandler(tracker, st, log),
		Previews:      handlers.NewPreviewHandler(previews, log),
	}
	if cfg.SendRateLimit > 0 {
		routes.SendLimiter = limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: cfg.SendRateLimit})
	}
	routes.Mount(router)

	router.GET("/ws", hub.HandleWebSocket)
	router.GET("/metrics", gin.WrapH(metrics.Handler(promReg)))
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(hctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("cache", cfg.CacheDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	tracker.Wait()
	return nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
