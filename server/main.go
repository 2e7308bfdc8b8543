// Command server runs the coordinator window: child windows connect over
// websocket and the coordinator relays their messages when the Redis bus is
// missing or not working.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/discovery"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/journal"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/transport"
)

type config struct {
	addr        string
	id          string
	origin      string
	channel     string
	redisAddr   string
	databaseURL string
	debug       bool
	mdns        bool
}

func main() {
	_ = godotenv.Load()

	var cfg config
	root := &cobra.Command{
		Use:   "server",
		Short: "Coordinator window for cross-window drag and drop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	root.Flags().StringVar(&cfg.addr, "addr", envOr("ADDR", ":8081"), "listen address")
	root.Flags().StringVar(&cfg.id, "id", envOr("WINDOW_ID", "coordinator"), "window id of the coordinator")
	root.Flags().StringVar(&cfg.origin, "origin", envOr("RELAY_ORIGIN", "http://localhost:8081"), "origin accepted from child windows")
	root.Flags().StringVar(&cfg.channel, "channel", envOr("RELAY_CHANNEL", relay.DefaultChannel), "broadcast channel name")
	root.Flags().StringVar(&cfg.redisAddr, "redis", os.Getenv("REDIS_ADDR"), "Redis address for the broadcast bus (empty: relay only)")
	root.Flags().StringVar(&cfg.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL for the message journal (empty: off)")
	root.Flags().BoolVar(&cfg.debug, "debug", os.Getenv("RELAY_DEBUG") != "", "debug logging")
	root.Flags().BoolVar(&cfg.mdns, "mdns", false, "advertise the coordinator over mDNS")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	opts := []relay.Option{
		relay.WithOrigin(cfg.origin),
		relay.WithChannel(cfg.channel),
		relay.WithDebug(cfg.debug),
	}

	// --- Connect to Redis ---
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		defer rdb.Close()
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Printf("Could not connect to Redis, running relay only: %v", err)
		} else {
			log.Println("Connected to Redis successfully.")
			opts = append(opts, relay.WithBus(transport.NewRedisBus(rdb)))
		}
	}

	// --- Connect to PostgreSQL ---
	if cfg.databaseURL != "" {
		j, err := journal.Connect(ctx, cfg.databaseURL, cfg.channel)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		if err := j.Migrate(ctx); err != nil {
			return err
		}
		opts = append(opts, relay.WithObserver(journal.Observer(j)))
		log.Println("Connected to PostgreSQL successfully.")
	}

	mgr, err := relay.New(relay.WindowID(cfg.id), opts...)
	if err != nil {
		return err
	}
	defer mgr.Close()
	relay.LogTraffic(mgr, log.Default())

	if err := mgr.InitializeAsCoordinator(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return err
	}

	if cfg.mdns {
		port := ln.Addr().(*net.TCPAddr).Port
		host, _ := os.Hostname()
		ad, err := discovery.Advertise(fmt.Sprintf("dnd-relay-%s-%s", host, strconv.Itoa(port)), port, cfg.channel, "/ws")
		if err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		} else {
			defer ad.Shutdown()
		}
	}

	srv := &http.Server{Handler: newCoordinator(mgr).routes()}
	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		mgr.Leave()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Coordinator %s listening on %s (channel %q)", cfg.id, ln.Addr(), cfg.channel)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
