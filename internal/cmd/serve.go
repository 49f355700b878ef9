package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/handlers"
	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/services"
)

var (
	servePort int
	serveDev  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentdeck server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Development mode: debug logging, pretty console output")
}

func runServe(cmd *cobra.Command, args []string) error {
	isDev := serveDev && term.IsTerminal(int(os.Stderr.Fd()))
	logger.Configure(logger.GetLogLevelFromEnv(serveDev), isDev)

	port := config.Runtime.Port
	if servePort != 0 {
		port = servePort
	}

	sessionStore, err := services.NewSessionStore(config.Runtime.StateDir)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	workspaceStore, err := services.NewWorkspaceStore(config.Runtime.StateDir)
	if err != nil {
		return fmt.Errorf("failed to initialize workspace store: %w", err)
	}
	pushService, err := services.NewPushService(
		config.Runtime.StateDir,
		config.Runtime.VAPIDPublicKey,
		config.Runtime.VAPIDPrivateKey,
		config.Runtime.PushSubscriber,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize push service: %w", err)
	}

	workspaceService := services.NewWorkspaceService(workspaceStore)
	engine := services.NewTerminalManager(sessionStore, pushService)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: !isDev,
		AppName:               "agentdeck",
	})
	app.Use(recover.New())

	workspacesHandler := handlers.NewWorkspacesHandler(workspaceService, sessionStore, engine)
	sessionsHandler := handlers.NewSessionsHandler(sessionStore, workspaceService, engine)
	terminalHandler := handlers.NewTerminalHandler(engine)
	pushHandler := handlers.NewPushHandler(pushService)

	v1 := app.Group("/v1")
	v1.Get("/workspaces", workspacesHandler.ListWorkspaces)
	v1.Post("/workspaces", workspacesHandler.CreateWorkspace)
	v1.Get("/workspaces/:id", workspacesHandler.GetWorkspace)
	v1.Delete("/workspaces/:id", workspacesHandler.DeleteWorkspace)

	v1.Get("/sessions", sessionsHandler.ListSessions)
	v1.Post("/sessions", sessionsHandler.CreateSession)
	v1.Get("/sessions/:id", sessionsHandler.GetSession)
	v1.Post("/sessions/:id/start", sessionsHandler.StartSession)
	v1.Post("/sessions/:id/stop", sessionsHandler.StopSession)
	v1.Delete("/sessions/:id", sessionsHandler.DeleteSession)

	v1.Get("/push/vapid-public-key", pushHandler.GetVAPIDPublicKey)
	v1.Post("/push/subscribe", pushHandler.Subscribe)

	app.Get("/ws/terminal/:sessionId", terminalHandler.HandleWebSocket)

	// Graceful shutdown: kill every PTY, then stop accepting connections
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Infof("received %s, shutting down", sig)
		engine.StopAll()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	logger.Infof("agentdeck listening on :%d (state dir %s)", port, config.Runtime.StateDir)
	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
