package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/config"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/server"
)

func main() {
	port := flag.String("port", "", "Server port (overrides PORT)")
	cachePath := flag.String("cache", "", "State cache path (overrides CACHE_PATH)")
	serverURL := flag.String("server-url", "", "Default sync endpoint (overrides DEFAULT_SERVER_URL)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	if *serverURL != "" {
		cfg.Proxy.DefaultServerURL = *serverURL
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
