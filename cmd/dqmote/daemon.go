package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/dqmote/internal/audit"
	"github.com/fentz26/dqmote/internal/config"
	"github.com/fentz26/dqmote/internal/connectors/serialport"
	"github.com/fentz26/dqmote/internal/connectors/simulator"
	"github.com/fentz26/dqmote/internal/controlplane"
	"github.com/fentz26/dqmote/internal/store"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the dqmote daemon",
	Long:  `Starts the dqmote daemon which runs experiments and serves the HTTP API and live round feed.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default from config)")
}

// loadConfig reads the configuration file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

// openService opens the store and builds a service with the simulator and
// serial connectors.
func openService(cfg *config.Config) (*store.Store, *controlplane.Service, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(path)
	if err != nil {
		return nil, nil, err
	}

	journal := audit.NewJournal(s)
	sim := simulator.New(cfg.SimConfig())
	port := serialport.New(serialport.Open(serialport.Options{
		Port: cfg.Probe.Port,
		Baud: cfg.Probe.Baud,
	}))
	return s, controlplane.NewService(s, journal, sim, port), nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting dqmote daemon...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr == "" {
		listenAddr = cfg.API.Listen
	}

	s, service, err := openService(cfg)
	if err != nil {
		return err
	}
	server := controlplane.NewServer(service, s, listenAddr)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Stopping experiments and HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
