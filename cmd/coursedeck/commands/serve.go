package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coursedeck/coursedeck/internal/config"
	"github.com/coursedeck/coursedeck/internal/loader"
	"github.com/coursedeck/coursedeck/internal/nav"
	"github.com/coursedeck/coursedeck/internal/server"
	"github.com/coursedeck/coursedeck/internal/square"
	"github.com/coursedeck/coursedeck/internal/store"
)

// ServeCommand implements the serve command.
func ServeCommand(args []string) error {
	dir := "."
	var configPath string
	var port string
	var host string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--port" || arg == "-p" {
			if i+1 < len(args) {
				port = args[i+1]
				i++
			}
		} else if arg == "--host" {
			if i+1 < len(args) {
				host = args[i+1]
				i++
			}
		} else if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		} else if !strings.HasPrefix(arg, "-") {
			dir = arg
		}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Printf("Using config: %s\n", configPath)
	} else {
		cfg, err = config.LoadFromDir(absDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	// CLI flags override config
	if port != "" {
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port: %s", port)
		}
		cfg.Server.Port = portInt
	}
	if host != "" {
		cfg.Server.Host = host
	}

	// Local state and uploads live relative to the served directory.
	dbPath := cfg.State.GetDBPath()
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(absDir, dbPath)
	}
	uploadsDir := cfg.State.GetUploadsDir()
	if !filepath.IsAbs(uploadsDir) {
		uploadsDir = filepath.Join(absDir, uploadsDir)
	}

	persister, err := store.NewSQLitePersister(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer persister.Close()

	l := loader.New(cfg.Fetch.GetTimeout(), loader.RetryConfig{
		MaxRetries: cfg.Fetch.GetRetryMaxRetries(),
		BaseDelay:  cfg.Fetch.GetRetryBaseDelay(),
		MaxDelay:   cfg.Fetch.GetRetryMaxDelay(),
		Multiplier: 2.0,
	})
	l.EnableCache(cfg.Fetch.GetCacheTTL())
	defer l.Close()
	st := store.New(l, persister)
	st.SetRepoConfigs(cfg.RepoConfigs())

	resolver := nav.New(st, cfg.Player.GetDefaultBranch())

	var sq *square.Service
	if cfg.IsSquareEnabled() {
		sq, err = square.New(cfg.Square.GetDSN())
		if err != nil {
			return fmt.Errorf("failed to connect to square: %w", err)
		}
		defer sq.Close()
	}

	watcher, err := store.NewUploadWatcher(uploadsDir, st)
	if err != nil {
		return fmt.Errorf("failed to watch uploads directory: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	srv := server.New(cfg, st, resolver, sq)

	fmt.Printf("Coursedeck Player\n\n")
	fmt.Printf("Serving: %s\n", absDir)
	fmt.Printf("State:   %s\n", dbPath)
	fmt.Printf("Uploads: %s\n", uploadsDir)
	if len(st.RepoConfigs()) > 0 {
		fmt.Printf("Repos:   %d configured\n", len(st.RepoConfigs()))
	}
	if sq != nil {
		fmt.Printf("Square:  enabled\n")
	}
	fmt.Printf("\nServer running at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	// Repository loading happens in the background; the server answers with
	// a loading view until the active list converges.
	if repos := st.RepoConfigs(); len(repos) > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := st.LoadFromRepos(ctx, repos); err != nil {
				log.Printf("[Serve] Initial repository load failed: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func init() {
	log.SetFlags(0) // Remove timestamp from logs
}
