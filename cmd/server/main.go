package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"hybridchat/moderation"
	"hybridchat/repositories"
	"hybridchat/runtime"
	"hybridchat/runtime/workers"
	"hybridchat/search"
	"hybridchat/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer executes before the process
// exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Message store
	store, err := repositories.Open(repositories.Options{
		Backend:    config.StoreBackend,
		FilePath:   config.HistoryFilepath,
		SQLitePath: config.SQLiteFilepath,
		MediaDir:   config.MediaDir,
		BadgerPath: config.BadgerFilepath,
	}, log)
	if err != nil {
		return fmt.Errorf("store opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing message store...")
		_ = store.Close()
	}()

	// 3. Full-text index
	index, err := search.Open(config.SearchIndexPath, log)
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 4. Moderation
	censored, err := runtime.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	moderator, err := moderation.New(censored.Words, config.ModerationCharReplacement)
	if err != nil {
		return fmt.Errorf("moderator building failed: %w", err)
	}
	log.Info("Moderation ready",
		"words", len(censored.Words),
		"languages", censored.Languages)

	// 5. Broker core
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry)
	dispatcher := runtime.NewDispatcher(log, registry, store, broadcaster, &moderator, index)
	queues := runtime.NewInboundQueues(dispatcher.Handle)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Background workers
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewTelemetryWorker(log, config.TelemetryInterval, registry, store))
	if config.RetentionMaxAge > 0 {
		sup.Add(workers.NewRetentionWorker(log, config.RetentionInterval, config.RetentionMaxAge, store))
	}
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 8. WebSocket server, blocks until shutdown
	server := transport.NewServer(log, transport.Config{
		Addr:           fmt.Sprintf("%s:%d", config.Host, config.Port),
		Path:           config.WSPath,
		AllowedOrigins: config.AllowedOrigins,
	}, queues, dispatcher)

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	// 9. Final Cleanup
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
