// Command mailsync keeps IMAP accounts synchronized into a local
// search index and broadcasts sync events to live subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/account"
	"github.com/nhle/mailsync/internal/broadcast"
	"github.com/nhle/mailsync/internal/httpapi"
	"github.com/nhle/mailsync/internal/index"
	"github.com/nhle/mailsync/internal/manager"
	"github.com/nhle/mailsync/internal/model"
)

// shutdownGrace bounds how long shutdown waits for sessions and
// in-flight HTTP requests.
const shutdownGrace = 15 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(log, *configPath); err != nil {
		log.WithError(err).Fatal("mailsync exited")
	}
}

func run(log *logrus.Logger, configPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	accounts := account.NewRegistry(cfg, log).Load()
	if len(accounts) == 0 {
		log.Warn("no accounts configured; only the HTTP API will be served")
	}

	store, err := index.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub broadcast.Publisher = broadcast.NopPublisher{}
	if cfg.Redis.Addr != "" {
		rp, err := broadcast.NewRedisPublisher(ctx, cfg.Redis, log)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, live broadcast disabled")
		} else {
			pub = rp
		}
	}
	defer pub.Close()

	mgr := manager.New(accounts, cfg.Sync, manager.WithLogger(log))

	// The forwarder drains until the manager closes the event stream,
	// so indexing keeps its own context and finishes during shutdown.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		forwardEvents(context.Background(), mgr.Events(), store, pub, log)
	}()

	mgr.StartAll(ctx)

	app := httpapi.NewApp(httpapi.NewHandler(ctx, mgr, store, log))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.WithField("addr", addr).Info("http api listening")
		if err := app.Listen(addr); err != nil {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// The HTTP surface goes first so no start request can race the
	// event channel teardown below.
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not stop cleanly")
	}

	if err := mgr.StopAll(shutdownCtx); err != nil {
		log.WithError(err).Warn("sessions did not stop cleanly")
	}
	mgr.Close()
	wg.Wait()

	log.Info("shutdown complete")
	return nil
}

// forwardEvents routes every sync event: new-email batches go to the
// index, and all events go to the live broadcast. Either destination
// failing is logged and never interrupts the stream.
func forwardEvents(
	ctx context.Context,
	events <-chan model.Event,
	sink index.Sink,
	pub broadcast.Publisher,
	log *logrus.Logger,
) {
	for ev := range events {
		if ev.Kind == model.EventNewEmails && len(ev.Messages) > 0 {
			if err := sink.Index(ctx, ev.Messages); err != nil {
				log.WithError(err).WithField("account", ev.AccountID).
					Error("indexing messages")
			} else {
				log.WithFields(logrus.Fields{
					"account": ev.AccountID,
					"count":   len(ev.Messages),
				}).Info("messages indexed")
			}
		}

		if err := pub.Publish(ctx, ev); err != nil {
			log.WithError(err).WithField("kind", ev.Kind).
				Warn("broadcasting event")
		}
	}
}
