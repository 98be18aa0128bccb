package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cv-adapter/internal/bootstrap"
	"cv-adapter/internal/shared/config"
	"cv-adapter/internal/shared/server"
	"cv-adapter/internal/shared/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "cv-adapter-api",
		Short:         "Serve the résumé adaptation HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	cmd.Flags().String("port", "", "listen port (default 8080)")
	cmd.Flags().Bool("json", true, "json format for logging")
	cmd.Flags().BoolP("debug", "d", false, "verbose/debug output")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("log_json", cmd.Flags().Lookup("json"))
	_ = v.BindPFlag("log_debug", cmd.Flags().Lookup("debug"))
	return cmd
}

func loadConfig(v *viper.Viper, cfgFile string) (config.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return cfg, err
	}
	if err := telemetry.Init(cfg.LogJSON, cfg.LogDebug); err != nil {
		return cfg, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	defer telemetry.Sync()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Role: bootstrap.RoleAPI})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	go func() {
		if err := app.Start(bgCtx, app.ExecutesLocally()); err != nil {
			telemetry.Error("api.background_failed", map[string]any{"error": err.Error()})
		}
	}()

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		telemetry.Info("api.listening", map[string]any{
			"addr":       srv.Addr,
			"env":        cfg.Env,
			"in_process": app.ExecutesLocally(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	telemetry.Info("api.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
