package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/jamsession/internal/config"
	"github.com/Tyrowin/jamsession/internal/logging"
	"github.com/Tyrowin/jamsession/internal/room"
	"github.com/Tyrowin/jamsession/internal/server"
)

var (
	configPath string
	envFile    string
	addrFlag   string
	levelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "jamserver",
	Short: "Room and WebRTC signaling server for live jam sessions",
	Long: `jamserver keeps capacity-limited jam rooms in memory, relays WebRTC
offer/answer and peer info between connected musicians, and publishes the
room directory and instrument choices to every client and passive listener.`,
	PersistentPreRunE: loadEnvFile,
	RunE:              run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address, overrides server.addr")
	rootCmd.Flags().StringVar(&levelFlag, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile applies the dotenv file before config is read. A missing file is
// only an error when the flag was set explicitly.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if levelFlag != "" {
		cfg.Logging.Level = levelFlag
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	iceServers, err := cfg.ICEServers()
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	hub := server.NewHub(server.HubOptions{
		Registry: room.NewRegistry(room.Options{
			Capacity:          cfg.Rooms.Capacity,
			DefaultInstrument: cfg.Rooms.DefaultInstrument,
			ReapEmpty:         cfg.Rooms.ReapEmpty,
		}),
		Listeners:  room.NewListeners(),
		ICEServers: iceServers,
		Logger:     logger,
	})
	go hub.Run()

	handler := server.NewHandler(hub, cfg.WebSocket, logger)
	httpServer := server.CreateServer(cfg.Server.Addr, server.SetupRoutes(handler))

	logger.Info("starting jam session server",
		"addr", cfg.Server.Addr,
		"room_capacity", hub.Registry().Capacity(),
		"ice_servers", len(iceServers),
		"allowed_origins", cfg.WebSocket.AllowedOrigins,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		_ = hub.Shutdown(cfg.Server.ShutdownTimeout)
		if err != nil {
			logger.Error("http server exited", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, hub, cfg.Server.ShutdownTimeout, logger); err != nil {
		return err
	}
	return <-errCh
}
