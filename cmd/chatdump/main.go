package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/you/chatdump/internal/chat"
	"github.com/you/chatdump/internal/checkpoint"
	"github.com/you/chatdump/internal/config"
	"github.com/you/chatdump/internal/httpapi"
	"github.com/you/chatdump/internal/session"
	"github.com/you/chatdump/internal/sink"
	"github.com/you/chatdump/internal/twitchirc"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		channel string
		output  string
	)
	flag.StringVar(&channel, "channel", "", "Channel to capture (without #)")
	flag.StringVar(&output, "output", "", "Snapshot path; the text log is written next to it with a .txt suffix")
	flag.Parse()

	channel = strings.TrimPrefix(strings.TrimSpace(channel), "#")
	output = strings.TrimSpace(output)
	if channel == "" || output == "" {
		fmt.Fprintln(os.Stderr, "usage: chatdump -channel <name> -output <file.json>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("chatdump: %v", err)
	}
	log.Printf("%s", cfg.SummaryJSON())

	if err := run(channel, output, cfg); err != nil {
		log.Printf("chatdump: %v", err)
		os.Exit(1)
	}
}

func run(channel, output string, cfg config.Config) error {
	textPath := output + ".txt"
	if !cfg.Overwrite {
		for _, p := range []string{output, textPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists; set CHATDUMP_OVERWRITE=true to replace it", p)
			}
		}
	} else if err := os.Remove(textPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old text log: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dial, err := twitchirc.NewDialer(twitchirc.TransportKind(cfg.Transport), cfg.Endpoint())
	if err != nil {
		return err
	}
	client, err := twitchirc.New(twitchirc.Config{
		Channel:         channel,
		Nick:            cfg.Nick,
		Pass:            cfg.Pass,
		Dial:            dial,
		RetryDelay:      cfg.ReconnectDelay,
		MaxDialAttempts: cfg.DialAttempts,
		Metrics:         twitchirc.NewMetrics(registry),
	})
	if err != nil {
		return err
	}

	sess := session.New(channel, time.Now())
	log.Printf("chatdump: session %s capturing #%s as %s into %s", sess.ID, sess.Channel, client.Nick(), output)

	var archive checkpoint.Archive
	var archiveDB *sink.SQLiteArchive
	if cfg.SQLitePath != "" {
		db, err := sink.OpenSQLite(cfg.SQLitePath, cfg.SQLiteTuning)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("chatdump: closing sqlite: %v", err)
			}
		}()
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping sqlite: %w", err)
		}
		if err := migrateSQLite(ctx, db.RawDB()); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
		archive = db
		archiveDB = db
	}

	store, err := checkpoint.New(checkpoint.Options{
		SnapshotPath: output,
		TextPath:     textPath,
		Interval:     cfg.FlushInterval,
		SessionID:    sess.ID,
		Channel:      sess.Channel,
		ChannelID:    cfg.ChannelID,
		Start:        sess.StartedAt,
		Archive:      archive,
		Metrics:      checkpoint.NewMetrics(registry),
	})
	if err != nil {
		return err
	}

	logger := slog.Default()
	driver := session.NewDriver(sess, client, chat.NewTranslator(sess.StartedAt, cfg.ChannelID, nil), store, session.Options{
		ReadTimeout: cfg.ReadTimeout,
		StatsEvery:  cfg.StatsEvery,
		Drops:       twitchirc.NewDropLogger(logger, time.Now(), cfg.DebugDrops, 0),
		Logger:      logger,
	})

	if cfg.HTTPAddr != "" {
		opts := httpapi.Options{
			Addr:            cfg.HTTPAddr,
			RateLimitRPS:    cfg.HTTPRateRPS,
			RateLimitBurst:  cfg.HTTPRateBurst,
			EnableAccessLog: true,
			Registry:        registry,
			ConfigSnapshot:  cfg.Redacted(),
		}
		if archiveDB != nil {
			opts.Archive = archiveDB
		}
		api := httpapi.New(driver, opts)
		go func() {
			if err := api.Start(); err != nil {
				log.Printf("chatdump: http api: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = api.Shutdown(shutdownCtx)
		}()
	}

	err = driver.Run(ctx)
	if ctx.Err() != nil {
		log.Printf("chatdump: received shutdown signal")
	}
	return err
}
