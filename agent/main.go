// Command agent runs a child window. It connects to a coordinator, joins
// the Redis bus when one is given, logs what other windows send and sends
// whatever is typed on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/discovery"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/identity"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/transport"
)

type config struct {
	coordinator     string
	id              string
	state           string
	origin          string
	channel         string
	redisAddr       string
	debug           bool
	discoverTimeout time.Duration
	dialRetries     uint64
}

func main() {
	_ = godotenv.Load()

	var cfg config
	root := &cobra.Command{
		Use:   "agent",
		Short: "Child window for cross-window drag and drop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, os.Stdin)
		},
	}

	root.Flags().StringVar(&cfg.coordinator, "coordinator", os.Getenv("COORDINATOR_URL"), "coordinator websocket URL (empty: discover over mDNS)")
	root.Flags().StringVar(&cfg.id, "id", os.Getenv("WINDOW_ID"), "window id (empty: load or create one in --state)")
	root.Flags().StringVar(&cfg.state, "state", envOr("AGENT_STATE", "agent-identity.db"), "bbolt file keeping the window id")
	root.Flags().StringVar(&cfg.origin, "origin", os.Getenv("RELAY_ORIGIN"), "origin of this window (empty: the coordinator's)")
	root.Flags().StringVar(&cfg.channel, "channel", envOr("RELAY_CHANNEL", relay.DefaultChannel), "broadcast channel name")
	root.Flags().StringVar(&cfg.redisAddr, "redis", os.Getenv("REDIS_ADDR"), "Redis address for the broadcast bus (empty: relay only)")
	root.Flags().BoolVar(&cfg.debug, "debug", os.Getenv("RELAY_DEBUG") != "", "debug logging")
	root.Flags().DurationVar(&cfg.discoverTimeout, "discover-timeout", 5*time.Second, "how long to browse mDNS for a coordinator")
	root.Flags().Uint64Var(&cfg.dialRetries, "dial-retries", 5, "connection attempts after the first one")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, in io.Reader) error {
	id, err := resolveID(cfg)
	if err != nil {
		return err
	}

	url := cfg.coordinator
	if url == "" {
		browseCtx, cancel := context.WithTimeout(ctx, cfg.discoverTimeout)
		c, err := discovery.Browse(browseCtx, cfg.channel)
		cancel()
		if err != nil {
			return err
		}
		url = c.URL
	}
	coordOrigin, err := transport.OriginOf(url)
	if err != nil {
		return err
	}
	origin := cfg.origin
	if origin == "" {
		origin = coordOrigin
	}

	opts := []relay.Option{
		relay.WithOrigin(origin),
		relay.WithChannel(cfg.channel),
		relay.WithDebug(cfg.debug),
	}
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		defer rdb.Close()
		opts = append(opts, relay.WithBus(transport.NewRedisBus(rdb)))
	}

	mgr, err := relay.New(id, opts...)
	if err != nil {
		return err
	}
	relay.LogTraffic(mgr, log.Default())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opener relay.Peer
	var peer *transport.WSPeer
	conn, err := transport.Dial(ctx, url, origin, cfg.dialRetries)
	if err != nil {
		log.Printf("No coordinator window: %v", err)
	} else {
		peer = transport.NewWSPeer(conn)
		opener = peer
		go func() {
			if err := transport.ReadLoop(conn, coordOrigin, mgr); err != nil {
				log.Printf("Coordinator connection lost: %v", err)
			}
			cancel()
		}()
	}

	if err := mgr.InitializeAsChild(opener); err != nil {
		return err
	}
	log.Printf("Window %s joined %s", id, url)

	go readCommands(in, mgr)
	<-ctx.Done()

	// Announce the departure before the connection goes away.
	mgr.Close()
	if peer != nil {
		peer.Close()
	}
	return nil
}

func resolveID(cfg config) (relay.WindowID, error) {
	if cfg.id == "" {
		return identity.LoadOrCreate(cfg.state, "child")
	}
	if cfg.state != "" {
		if err := identity.Save(cfg.state, relay.WindowID(cfg.id)); err != nil {
			log.Printf("Could not save window id: %v", err)
		}
	}
	return relay.WindowID(cfg.id), nil
}

func readCommands(in io.Reader, mgr *relay.Manager) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, err := parseCommand(scanner.Text())
		if errors.Is(err, errEmptyCommand) {
			continue
		}
		if err != nil {
			log.Printf("Bad command: %v", err)
			continue
		}
		if err := cmd.send(mgr); err != nil {
			log.Printf("Send %s failed: %v", cmd.typ, err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
