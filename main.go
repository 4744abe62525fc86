package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/n0madic/go-minimax-gate/internal/config"
	"github.com/n0madic/go-minimax-gate/internal/proxy"
)

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: minimax-gate <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, health")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "health":
		os.Exit(cmdHealth())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve, health")
		os.Exit(1)
	}
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "TabbyAPI backend base URL")
	fs.StringVar(&cfg.SessionStoreBackend, "session-store", cfg.SessionStoreBackend, "Session store backend (memory|sqlite)")
	fs.StringVar(&cfg.SessionStorePath, "session-store-path", cfg.SessionStorePath, "SQLite session store path")
	fs.BoolVar(&cfg.EnableReasoningSplit, "reasoning-split", cfg.EnableReasoningSplit, "Split reasoning into reasoning_content by default")
	fs.BoolVar(&cfg.EnableThinkingBlocks, "thinking-blocks", cfg.EnableThinkingBlocks, "Emit Anthropic thinking blocks")
	fs.Parse(os.Args[2:])

	setupLogging(cfg)

	srv, err := proxy.New(cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdHealth() int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	host := fs.String("host", "127.0.0.1", "Gateway host to probe")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Gateway port to probe")
	fs.Parse(os.Args[2:])

	url := fmt.Sprintf("http://%s:%d/health", *host, cfg.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "bad health response: %v\n", err)
		return 1
	}
	out, _ := json.MarshalIndent(health, "", "  ")
	fmt.Println(string(out))
	if health["status"] != "healthy" {
		return 1
	}
	return 0
}

func setupLogging(cfg *config.ServerConfig) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
