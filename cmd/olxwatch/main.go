package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"olxwatch/internal/bot"
	"olxwatch/internal/config"
	"olxwatch/internal/notify"
	"olxwatch/internal/scraper"
	"olxwatch/internal/storage"
	"olxwatch/internal/watch"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.WithFields(logrus.Fields{
		"storage_path": cfg.StoragePath,
		"targets":      len(cfg.Targets),
	}).Info("Configuration loaded")

	// Database
	repo, err := storage.NewBadgerRepository(cfg.StoragePath, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize database")
		return err
	}
	defer func() {
		log.Info("Closing database...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	// One long-lived browser shared across all polls.
	browser, err := scraper.LaunchBrowser()
	if err != nil {
		log.WithError(err).Error("Failed to launch browser")
		return err
	}
	defer func() {
		log.Info("Closing browser...")
		if err := browser.Close(); err != nil {
			log.WithError(err).Error("Error closing browser")
		}
	}()

	source, err := scraper.NewRodScraper(browser, cfg.BaseURL, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize scraper")
		return err
	}

	botHandler, err := bot.NewHandler(cfg.TelegramBotToken, repo, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize Telegram bot handler")
		return err
	}

	dispatcher := notify.NewDispatcher(botHandler, repo, log)
	reporter := notify.NewCrashReporter(botHandler, cfg.AdminID, log)
	watcher := watch.New(cfg.Targets, repo, source, dispatcher, cfg.Interval(), cfg.Jitter(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go botHandler.Start(ctx)

	log.Info("olxwatch is running. Press Ctrl+C to exit.")

	err = runWatcher(ctx, watcher)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Watcher failed, reporting to administrator")

		// The signal context may already be gone; give the report its own
		// deadline.
		reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		reporter.Report(reportCtx, err.Error())
		cancel()
		return err
	}

	log.Info("olxwatch shut down gracefully.")
	return nil
}

// runWatcher runs the poll loop and converts a panic into an error carrying
// the stack, so the crash-report path sees every abnormal exit.
func runWatcher(ctx context.Context, w *watch.Watcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}
