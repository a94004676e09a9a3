package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jiyeyuran/mediasoup-conference/internal/chat"
	"github.com/jiyeyuran/mediasoup-conference/internal/conference"
	"github.com/jiyeyuran/mediasoup-conference/internal/config"
	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

var log = logger.New("Server")

func main() {
	var (
		listen      string
		redisAddr   string
		numWorkers  int
		announcedIp string
		envFile     string
	)

	cmd := &cobra.Command{
		Use:          "conference-server",
		Short:        "Multi-party conferencing signaling server backed by mediasoup",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}

			if listen != "" {
				cfg.App.Listen = listen
			}
			if redisAddr != "" {
				cfg.Redis.Addr = redisAddr
			}
			if numWorkers > 0 {
				cfg.App.NumWorkers = numWorkers
			}
			if announcedIp != "" {
				cfg.WebRtcTransport.AnnouncedIp = announcedIp
			}

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", "", "listen address for signaling and REST (default :5000)")
	flags.StringVar(&redisAddr, "redis", "", "redis address for chat history")
	flags.IntVar(&numWorkers, "num-workers", 0, "media worker pool size (default one per CPU core)")
	flags.StringVar(&announcedIp, "announced-ip", "", "ip announced to clients (default autodetected)")
	flags.StringVar(&envFile, "env-file", "", "load environment from this file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error(err, "server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	engine := sfu.NewMediasoupEngine(cfg.SfuOptions())

	// a dead worker strands every room bound to it; exit and let the
	// supervisor restart a clean process
	pool, err := conference.NewWorkerPool(engine, cfg.App.NumWorkers, func(err error) {
		log.Error(err, "media worker died, scheduling exit")
		time.AfterFunc(2*time.Second, func() { os.Exit(1) })
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := conference.NewRegistry()
	defer registry.CloseAll()

	gateway := conference.NewGateway(registry, pool)

	redisClient := redis.NewClient(cfg.RedisOptions())
	defer redisClient.Close()

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Handle("/ws", gateway)
	chat.NewHandler(chat.NewRedisStore(redisClient)).Register(router)

	server := &http.Server{
		Addr:    cfg.App.Listen,
		Handler: router,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.App.Listen, "workers", pool.Len())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, roomid")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
