package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/improvement"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/policy"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/simd"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
	"google.golang.org/grpc"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var logLevel string
	var callbackURL string

	flag.StringVar(&configPath, "config", "config/optimization.yaml", "path to the optimization config")
	flag.StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC health listen address (empty to disable)")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address (empty to disable)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	flag.StringVar(&callbackURL, "status-callback-url", "", "URL receiving batch status updates; overrides the config")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	if err := run(cfg, grpcAddr, httpAddr, callbackURL); err != nil {
		logger.Error("evaluator failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, grpcAddr, httpAddr, callbackURL string) error {
	// The first signal asks the optimizer to stop before its next batch,
	// a second one cancels the batch in flight.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	var stopRequested atomic.Bool
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
		case <-runCtx.Done():
			return
		}
		logger.Info("stop requested, finishing current batch")
		stopRequested.Store(true)
		select {
		case <-sigs:
			logger.Warn("second stop request, cancelling current batch")
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	rng := utils.NewRandSource(cfg.RandomSeed())
	logger.Info("random seed", "seed", rng.Seed())

	store := simd.NewEnsembleStore()
	executor, err := simd.NewLocalExecutor(store, cfg.ForwardModel, cfg.Simulator.MaxRunning, rng)
	if err != nil {
		return fmt.Errorf("forward model: %w", err)
	}

	runner := improvement.NewRunner(cfg, executor, store).
		WithOptimizationCallback(func() string {
			if stopRequested.Load() {
				return policy.StopOptimization
			}
			return ""
		})

	notifier, err := newNotifier(cfg, callbackURL, runner.Name())
	if err != nil {
		return err
	}
	if notifier != nil {
		runner.WithStatusCallback(notifier.Notify)
	}

	health := simd.NewHealthReporter()
	stopServers, err := startServers(grpcAddr, httpAddr, health,
		simd.NewHTTPServer(runner.Evaluator(), store, executor))
	if err != nil {
		return err
	}
	defer stopServers()

	health.SetServing(true)
	result, runErr := runner.Run(runCtx)
	health.SetServing(false)

	if notifier != nil {
		notifier.Wait()
	}
	if result != nil {
		logResult(result)
		if err := writeResult(cfg, result); err != nil {
			logger.Error("failed to write result", "error", err)
		}
	}
	return runErr
}

func newNotifier(cfg *config.Config, callbackURL, experiment string) (*simd.Notifier, error) {
	cb := cfg.StatusCallback
	if callbackURL != "" {
		if cb == nil {
			cb = &config.StatusCallback{Backoff: "exponential", BaseMs: 1000, MaxRetries: 3}
		}
		cb.URL = callbackURL
	}
	if cb == nil || cb.URL == "" {
		return nil, nil
	}
	n, err := simd.NewNotifier(cb.URL, cb.Secret, experiment, policy.NewRetryPolicyFromConfig(cb))
	if err != nil {
		return nil, fmt.Errorf("status callback: %w", err)
	}
	return n, nil
}

// startServers starts the gRPC health and HTTP servers and returns a function
// that shuts both down.
func startServers(grpcAddr, httpAddr string, health *simd.HealthReporter, httpHandler *simd.HTTPServer) (func(), error) {
	var shutdown []func()

	if grpcAddr != "" {
		// TODO: Configure gRPC server security (e.g., TLS, authentication)
		// before exposing the health endpoint outside a trusted network.
		grpcServer := grpc.NewServer()
		health.Register(grpcServer)

		grpcLis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen for gRPC on %s: %w", grpcAddr, err)
		}
		go func() {
			logger.Info("gRPC server listening", "addr", grpcAddr)
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
		shutdown = append(shutdown, func() {
			health.Shutdown()
			grpcServer.GracefulStop()
		})
	}

	if httpAddr != "" {
		httpSrv := &http.Server{
			Addr:              httpAddr,
			Handler:           httpHandler.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
			}
		}()
		shutdown = append(shutdown, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Error("HTTP shutdown error", "error", err)
			}
		})
	}

	return func() {
		for _, fn := range shutdown {
			fn()
		}
	}, nil
}

func logResult(result *improvement.ExperimentResult) {
	attrs := []any{
		"experiment", result.Name,
		"exit_code", result.ExitCode.String(),
		"reason", result.ExitReason,
		"batches", result.Batches,
		"evaluations", result.Evaluations,
		"distinct_errors", len(result.Errors),
	}
	if result.BestObjective != nil {
		attrs = append(attrs, "best_objective", *result.BestObjective)
	}
	for name, v := range result.BestControls {
		attrs = append(attrs, name, v)
	}
	if result.ExitCode == models.ExitCompleted {
		logger.Info("optimization completed", attrs...)
		return
	}
	logger.Warn("optimization stopped early", attrs...)
}

// writeResult stores the result as JSON in environment.output_dir, if set
func writeResult(cfg *config.Config, result *improvement.ExperimentResult) error {
	if cfg.Environment == nil || cfg.Environment.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.Environment.OutputDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	name := strings.NewReplacer("@", "_", ":", "-").Replace(result.Name) + ".json"
	path := filepath.Join(cfg.Environment.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logger.Info("result written", "path", path)
	return nil
}
