package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/coderelay/coderelay/internal/bridge"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/executor"
	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/internal/provider"
	"github.com/coderelay/coderelay/internal/server"
	"github.com/coderelay/coderelay/internal/store"
	"github.com/coderelay/coderelay/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveOffline  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coderelay server",
	Long: `Start coderelay as a headless server that exposes the session API
over HTTP and pushes session events over SSE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "Serve canned responses without a model provider")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	// Local .env keeps provider keys out of the shell profile.
	_ = godotenv.Load(filepath.Join(workDir, ".env"))

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	level := appConfig.Log.Level
	if cmd.Flags().Changed("log-level") || level == "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: logPretty || appConfig.Log.Pretty,
	})

	logging.Info().
		Str("version", Version).
		Str("workDir", workDir).
		Msg("starting coderelay server")

	ctx := context.Background()
	var providerReg *provider.Registry
	if serveOffline {
		providerReg = provider.NewRegistry(&types.Config{Model: "scripted/scripted-1"})
		providerReg.Register(provider.NewScripted(
			"Running in offline mode; no model provider is configured."))
	} else {
		providerReg = provider.InitializeProviders(ctx, appConfig)
	}

	st := store.New()
	bus := event.NewBus()
	defer bus.Close()
	br := bridge.New(bus)
	defer br.Close()

	exec := executor.New(st, providerReg, bus,
		executor.WithWorkspaceConfig(appConfig.Workspace))

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	serverConfig.Hostname = serveHostname
	if appConfig.Server.Port != 0 && !cmd.Flags().Changed("port") {
		serverConfig.Port = appConfig.Server.Port
	}
	if appConfig.Server.Hostname != "" && !cmd.Flags().Changed("hostname") {
		serverConfig.Hostname = appConfig.Server.Hostname
	}
	if appConfig.Server.EnableCORS != nil {
		serverConfig.EnableCORS = *appConfig.Server.EnableCORS
	}
	serverConfig.AuthToken = appConfig.Server.AuthToken

	srv := server.New(serverConfig, st, exec, br, bus)

	go func() {
		logging.Info().
			Str("hostname", serverConfig.Hostname).
			Int("port", serverConfig.Port).
			Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
