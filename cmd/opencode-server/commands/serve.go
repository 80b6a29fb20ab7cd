package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/server"
	"github.com/opencode-ai/opencode/internal/servicehost"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/internal/vcs"
	"github.com/opencode-ai/opencode/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session-runtime server",
	Long: `Start the SessionManager/ServiceHost session runtime and expose it over HTTP.

ServiceHost owns the HTTP listener's lifecycle and a periodic sweep that
suspends sessions idle past the configured threshold; SIGINT/SIGTERM trigger
a graceful shutdown that drains in-flight requests and suspends every
remaining active session before the process exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting opencode-server")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize some providers")
	}

	toolReg := tool.DefaultRegistry(workDir, store)

	sessionStore := newSessionStore(appConfig)

	managerCfg := config.SessionManagerConfig(appConfig)
	defaultAgent := &session.Agent{Name: "default"}
	sessionMgr := session.NewSessionManager(sessionStore, managerCfg, providerReg, toolReg, permission.NewChecker(), defaultAgent)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	serverConfig.Directory = workDir
	httpSrv := server.New(serverConfig, appConfig, store, providerReg, toolReg)

	if err := httpSrv.InitializeMCP(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to initialize some MCP servers")
	}
	httpSrv.MountSessionRuntime(sessionMgr)

	vcsWatcher, err := vcs.NewWatcher(workDir)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to start VCS watcher")
	} else if vcsWatcher != nil {
		vcsWatcher.Start()
		defer vcsWatcher.Stop()
	}

	host := servicehost.New(sessionMgr, httpSrv, config.ServiceHostConfig(appConfig))
	if err := host.Start(); err != nil {
		return err
	}
	logging.Info().
		Str("hostname", serveHostname).
		Int("port", servePort).
		Str("url", fmt.Sprintf("http://%s:%d", serveHostname, servePort)).
		Msg("server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	if err := httpSrv.CloseMCP(); err != nil {
		logging.Warn().Err(err).Msg("error closing MCP servers")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := host.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("service host shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}

// newSessionStore builds the SessionStore the config selects: "memory"
// (useful for a one-off smoke run) or "file" (durable across restarts,
// the default).
func newSessionStore(appConfig *types.Config) sessionstore.Store {
	if config.StoreKind(appConfig) == "memory" {
		return sessionstore.NewMemStore()
	}
	return sessionstore.NewFileStore(config.StorePath(appConfig))
}
