package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/server"
)

func newScheduleCmd() *cobra.Command {
	var (
		interval time.Duration
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run warming passes on a fixed interval",
		Long: `Runs a warming pass immediately and then every interval until SIGINT or
SIGTERM, serving /healthz, /readyz, and /metrics meanwhile. A signal stops
further passes; a pass already in flight still completes and flushes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config().Schedule
			if interval <= 0 {
				interval = cfg.Interval
			}
			if listen == "" {
				listen = cfg.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSchedule(ctx, appInstance, interval, listen)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default schedule.interval)")
	cmd.Flags().StringVar(&listen, "listen", "", "status server address, empty string from config; \"-\" disables it")
	return cmd
}

func runSchedule(ctx context.Context, a App, interval time.Duration, listen string) error {
	logger := a.Logger()

	var srv *http.Server
	if listen != "-" && listen != "" {
		srv = &http.Server{
			Addr:              listen,
			Handler:           server.New(a.State(), logger.Named("server")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", zap.String("addr", listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("scheduler started", zap.Duration("interval", interval))
	for {
		a.RunOnce(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			logger.Info("shutdown initiated")
			return shutdown(srv, logger)
		case <-ticker.C:
		}
	}
}

func shutdown(srv *http.Server, logger *zap.Logger) error {
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	return nil
}
