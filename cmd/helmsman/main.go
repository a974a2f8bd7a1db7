// Command helmsman runs the autonomous orchestration service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helmsman-ai/helmsman/core"
	"github.com/helmsman-ai/helmsman/orchestrator"
	"github.com/helmsman-ai/helmsman/server"
	"github.com/helmsman-ai/helmsman/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("HELMSMAN_CONFIG"), "path to YAML config")
	tracing := flag.Bool("tracing", false, "emit OpenTelemetry spans to stdout")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		stderr("load config: " + err.Error())
		os.Exit(1)
	}

	logger, err := core.NewLogger(cfg.LogLevel)
	if err != nil {
		stderr("init logger: " + err.Error())
		os.Exit(1)
	}

	if err := run(cfg, *configPath, *tracing, logger); err != nil {
		logger.Error("Fatal", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *core.Config, configPath string, tracing bool, logger core.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	sys, err := orchestrator.NewSystem(cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	sys.StartBackground(ctx)

	api := server.New(sys, logger)

	if configPath != "" {
		// Hot reload covers the rate limiter and breaker thresholds;
		// backend URLs and pool sizes need a process restart.
		stopWatch, werr := core.Watch(configPath, logger, func(next *core.Config) {
			sys.ApplyReload(next)
			api.ApplyConfig(next)
			logger.Info("Config tunables applied", map[string]interface{}{
				"operation": "config_reload",
				"path":      configPath,
			})
		})
		if werr != nil {
			logger.Warn("Config watch disabled", map[string]interface{}{
				"operation": "config_reload",
				"error":     werr.Error(),
			})
		} else {
			defer stopWatch()
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(api.Handler(), "helmsman"),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", map[string]interface{}{
			"operation": "startup",
			"addr":      cfg.Server.Addr,
		})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func stderr(msg string) {
	os.Stderr.WriteString(msg + "\n")
}
