// Package main is a small command-line driver for exercising a Session
// against a live cluster: connect, fire a configurable number of opaque
// QUERY frames, each keyed by a synthetic partition key and routed by its
// token, and report how long it took.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scylladb-go/shardpool/config"
	"github.com/scylladb-go/shardpool/pkg/lib/log"
	"github.com/scylladb-go/shardpool/session"
)

var logger = log.Logger("cqlshard-bench")

var (
	contactPoints = flag.String("hosts", "127.0.0.1", "comma-separated contact points")
	port          = flag.Int("port", 9042, "native protocol port")
	keyspace      = flag.String("keyspace", "", "keyspace to USE on connect")
	connsPerHost  = flag.Int("conns-per-host", 4, "connections to keep open per host")
	requests      = flag.Int("n", 1000, "number of opaque QUERY frames to send")
	logLevel      = flag.String("log-level", "info", "debug|info|warn|error")
)

func main() {
	flag.Parse()
	log.SetLevel(parseLevel(*logLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx); err != nil {
		logger.Error("bench failed", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func run(ctx context.Context) error {
	points := strings.Split(*contactPoints, ",")
	cfg, err := config.New(
		config.WithContactPoints(points...),
		config.WithPort(*port),
		config.WithKeyspace(*keyspace),
		config.WithNumConnsPerHost(*connsPerHost),
	)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	s, err := session.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()

	logger.Info("connected", "session", s.ID(), "hosts", len(s.Hosts()))

	start := time.Now()
	body := []byte("SELECT 1")
	for i := 0; i < *requests; i++ {
		tok := session.TokenForKey([]byte(fmt.Sprintf("key-%d", i)))
		if err := s.ExecuteSimple(body, &tok); err != nil {
			logger.Warn("send failed", "i", i, "err", err)
		}
	}
	elapsed := time.Since(start)

	logger.Info("bench done", "requests", *requests, "elapsed", elapsed.String())
	return nil
}
