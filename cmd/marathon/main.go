package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"marathon/internal/api"
	"marathon/internal/clock"
	"marathon/internal/config"
	"marathon/internal/progress"
	"marathon/internal/realtime"
	"marathon/internal/websocket"
	"marathon/pkg/database"
	"marathon/pkg/models"
)

var (
	envFile string
	dbPath  string
	cfg     config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marathon",
		Short: "Bible reading marathon: progress tracking and live stats",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(envFile); err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides MARATHON_DB_PATH)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB opens the configured database and brings the schema up to date.
func openDB() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func seedFrom(db *sql.DB, path string) (int, error) {
	seed, err := database.LoadBibleFromFile(path)
	if err != nil {
		return 0, err
	}
	return database.SeedBible(db, seed)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the live progress feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := os.Stat(cfg.SeedFile); err == nil {
				n, err := seedFrom(db, cfg.SeedFile)
				if err != nil {
					return err
				}
				log.Printf("Seeded %d verses from %s", n, cfg.SeedFile)
			} else {
				log.Printf("warn: %s not found; skip seeding (%v)", cfg.SeedFile, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gin.SetMode(cfg.GinMode)

			events := make(chan models.ProgressEvent, cfg.EventBuffer)
			hub := websocket.NewHub(events)
			go hub.Run(ctx)
			log.Println("Progress hub started")

			clk := clock.SystemClock{}
			server := api.New(db,
				progress.New(db, clk, events),
				realtime.New(db, clk, cfg.ActiveWindow),
				hub)

			httpServer := &http.Server{
				Addr:              cfg.Addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("HTTP API listening on %s", cfg.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Println("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides MARATHON_ADDR)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("Schema up to date in %s\n", cfg.DBPath)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load books, chapters and verses from a YAML or JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.SeedFile
			if len(args) == 1 {
				path = args[0]
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := seedFrom(db, path)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d new verses from %s\n", n, path)
			return nil
		},
	}
}
