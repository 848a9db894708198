package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/basket/crewctl/internal/audit"
	"github.com/basket/crewctl/internal/bus"
	croninternal "github.com/basket/crewctl/internal/cron"
	"github.com/basket/crewctl/internal/gateway"
	otelpkg "github.com/basket/crewctl/internal/otel"
	"github.com/basket/crewctl/internal/persistence"
	"github.com/basket/crewctl/internal/telemetry"
)

var (
	serveAddr  string
	serveToken string
	serveQuiet bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	Long: `Serves the web dashboard and its API over the board database. Every API
route requires the auth token, passed as 'Authorization: Bearer <token>' or
'?token=<token>'. Without a configured token a random one is generated and
printed at startup.

The server also runs the schedule runner, so recurring tasks only fire while
a serve process is up.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Bind address (default 127.0.0.1:3737)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Auth token (default $CREW_TOKEN or generated)")
	serveCmd.Flags().BoolVar(&serveQuiet, "quiet", false, "Log to file only, not stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.BindAddr = serveAddr
	}
	if serveToken != "" {
		cfg.AuthToken = serveToken
	}
	generated := false
	if cfg.AuthToken == "" {
		cfg.AuthToken = uuid.NewString()
		generated = true
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, serveQuiet)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	if err := audit.Init(cfg.HomeDir); err != nil {
		logger.Warn("audit log unavailable", "error", err)
	}
	defer audit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := otelpkg.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelpkg.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	eventBus := bus.New()
	store, err := persistence.Open(cfg.DBPath, eventBus, logger)
	if err != nil {
		return fmt.Errorf("open board at %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	poller := gateway.NewPoller(gateway.PollerConfig{
		Store:    store,
		Bus:      eventBus,
		Logger:   logger,
		Metrics:  metrics,
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	})
	poller.Start(ctx)
	defer poller.Stop()

	scheduler := croninternal.NewScheduler(croninternal.Config{
		Store:    store,
		Bus:      eventBus,
		Logger:   logger,
		Interval: time.Duration(cfg.ScheduleIntervalSeconds) * time.Second,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := gateway.New(gateway.Config{
		Store:     store,
		Bus:       eventBus,
		Logger:    logger,
		Metrics:   metrics,
		AuthToken: cfg.AuthToken,
	})
	httpSrv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if generated {
		fmt.Printf("Generated auth token: %s\n", cfg.AuthToken)
	}
	fmt.Printf("Dashboard: http://%s/?token=%s\n", cfg.BindAddr, cfg.AuthToken)
	logger.Info("dashboard listening", "addr", cfg.BindAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
