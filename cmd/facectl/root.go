package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"facewatch-go/config"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/db"
	"facewatch-go/internal/db/repository"
	"facewatch-go/internal/logger"

	"github.com/spf13/cobra"
)

// app hält die für alle Unterbefehle geöffneten Ressourcen
type app struct {
	cfg     *config.Config
	repo    *repository.SQLiteRepository
	gallery *gallery.Gallery
	closer  io.Closer
}

var (
	configPath string
	current    *app
)

var rootCmd = &cobra.Command{
	Use:          "facectl",
	Short:        "Manage the Facewatch face gallery",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipSetup(cmd) {
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		closer := logger.Init(cfg.Log)

		if err := db.Initialize(cfg); err != nil {
			closer.Close()
			return fmt.Errorf("failed to open database: %w", err)
		}
		repo := repository.NewSQLiteRepository(db.DB)
		current = &app{
			cfg:     cfg,
			repo:    repo,
			gallery: gallery.New(repo),
			closer:  closer,
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current == nil {
			return
		}
		db.Close(db.DB)
		current.closer.Close()
	},
}

// skipSetup gilt für Hilfe und Shell-Vervollständigung
func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

// Execute führt den Root-Befehl mit einem bei SIGINT/SIGTERM abgebrochenen Kontext aus
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
}
