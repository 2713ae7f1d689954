package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plyraAI/plyra-memory-server/internal/config"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
	"github.com/plyraAI/plyra-memory-server/internal/memory"
	"github.com/plyraAI/plyra-memory-server/internal/server"
)

const banner = `
        _
  _ __ | |_   _ _ __ __ _
 | '_ \| | | | | '__/ _` + "`" + ` |
 | |_) | | |_| | | | (_| |
 | .__/|_|\__, |_|  \__,_|
 |_|      |___/  memory-server
`

func newServeCmd() *cobra.Command {
	var (
		port  int
		host  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memory gateway server",
		Long:  "Start the HTTP server that authenticates API keys and proxies memory operations to the engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(debug)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 7700, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	return cmd
}

func runServe(debug bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := slog.LevelInfo
	if debug || cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Key store: the single shared handle for the whole process. A failure
	// here is fatal; the server never runs without its store.
	store, err := keystore.Open(cfg.KeyStorePath(), cfg.RateLimitRPM)
	if err != nil {
		return fmt.Errorf("init key store: %w", err)
	}
	logger.Info("key store initialized", "url", cfg.KeyStoreURL)

	engine := memory.NewRemote(cfg.EngineURL)
	logger.Info("memory engine wired", "url", cfg.EngineURL)

	if cfg.AdminAPIKey == config.DefaultAdminKey {
		logger.Warn("using default admin key - set PLYRA_ADMIN_API_KEY before exposing this server")
	}

	srv := server.New(cfg, store, engine, logger)

	fmt.Printf("→ plyra-memory-server v%s\n", server.Version)
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Keys db:  %s\n", cfg.KeyStoreURL)
	fmt.Printf("→ Engine:   %s\n", cfg.EngineURL)
	fmt.Printf("→ Health:   http://%s:%d/health\n", cfg.Host, cfg.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
