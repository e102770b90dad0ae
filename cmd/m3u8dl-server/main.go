package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3u8dl/engine/internal/config"
	"github.com/m3u8dl/engine/internal/server"
	"github.com/m3u8dl/engine/internal/version"
)

func main() {
	port := flag.Int("port", 0, "HTTP listen port (default: 8080)")
	poolSize := flag.Int("pool-size", 0, "HTTP connection pool size across all tasks combined (default: config's thread_count x4)")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("m3u8dl-server %s\n", version.Version)
		return
	}

	cfg := config.LoadOrDefault()

	serverPort := *port
	if serverPort == 0 {
		if cfg.Server.Port > 0 {
			serverPort = cfg.Server.Port
		} else {
			serverPort = 8080
		}
	}

	pool := *poolSize
	if pool <= 0 {
		pool = cfg.ThreadCount * 4
		if pool <= 0 {
			pool = 32
		}
	}

	apiKey := cfg.Server.APIKey

	srv := server.New(serverPort, pool, apiKey)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	log.Printf("starting m3u8dl-server on port %d", serverPort)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
