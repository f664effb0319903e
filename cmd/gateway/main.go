package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jjeffery/kv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgerun/execgw/internal/config"
	"github.com/forgerun/execgw/internal/limits"
	"github.com/forgerun/execgw/internal/metrics"
	"github.com/forgerun/execgw/internal/obslog"
	"github.com/forgerun/execgw/internal/orchestrator"
	"github.com/forgerun/execgw/internal/ratelimit"
	"github.com/forgerun/execgw/internal/runstore"
	"github.com/forgerun/execgw/internal/sandbox"
	"github.com/forgerun/execgw/internal/store"
	"github.com/forgerun/execgw/internal/stream"
	"github.com/forgerun/execgw/pkg/httpapi"
)

var logger = obslog.New("gateway")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flags := config.NewFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := flags.Resolve()
	if err != nil {
		logger.Error("failed to resolve configuration", "error", err.Error())
		os.Exit(-1)
	}

	if errs := Run(ctx, cancel, cfg); len(errs) != 0 {
		for _, e := range errs {
			logger.Error(e.Error())
		}
		os.Exit(-1)
	}

	<-ctx.Done()
	time.Sleep(1 * time.Second)
}

// Run wires config into every satellite component and starts the HTTP
// server as a background goroutine, mirroring the teacher's
// EntryPoint/Main split so the wiring logic stays testable independent of
// process-level signal handling.
func Run(ctx context.Context, cancel context.CancelFunc, cfg config.Config) (errs []error) {
	limitsPolicy, lerr := limits.New(cfg.DefaultLimits, cfg.MaxLimits)
	if lerr != nil {
		return []error{lerr}
	}

	uploads, serr := store.New(store.Options{
		Root:         cfg.StorageRoot + "/uploads",
		SigningKey:   cfg.SigningKey,
		PublicPrefix: "/v1/files",
	})
	if serr != nil {
		return []error{serr}
	}

	var mirror *store.Mirror
	if cfg.MirrorEndpoint != "" {
		mirrorErrC := make(chan kv.Error, 16)
		var merr kv.Error
		mirror, merr = store.NewMirror(ctx, cfg.MirrorEndpoint, cfg.MirrorAccessKey, cfg.MirrorSecretKey, cfg.MirrorBucket, cfg.MirrorUseSSL, mirrorErrC)
		if merr != nil {
			return []error{merr}
		}
		go watchMirrorErrors(ctx, mirrorErrC)
	}

	artifacts, serr := store.New(store.Options{
		Root:         cfg.StorageRoot + "/artifacts",
		SigningKey:   cfg.SigningKey,
		PublicPrefix: "/v1/files",
		Mirror:       mirror,
	})
	if serr != nil {
		return []error{serr}
	}

	limiter := ratelimit.New(cfg.DefaultRatePerSec, cfg.DefaultBurst, 0)
	tokens := make(map[string]string, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		tokens[k.Token] = k.Label
		if k.Limits.RatePerSec > 0 || k.Limits.Burst > 0 {
			limiter.SetKeyLimits(k.Token, k.Limits)
		}
	}

	runner := sandbox.NewContainer(sandbox.ContainerConfig{
		Images:          cfg.Images,
		SeccompProfile:  cfg.SeccompProfile,
		AppArmorProfile: cfg.AppArmorProfile,
		DevMode:         cfg.DevMode,
	})

	if errGo := os.MkdirAll(cfg.WorkRoot, 0o700); errGo != nil {
		return []error{errGo}
	}

	o := &orchestrator.Orchestrator{
		WorkRoot:  cfg.WorkRoot,
		Limits:    limitsPolicy,
		Uploads:   uploads,
		Artifacts: artifacts,
		Runs:      runstore.New(),
		Runner:    runner,
		Log:       obslog.New("orchestrator"),
	}

	reg := prometheus.NewRegistry()
	regErrC := make(chan error, 4)
	metrics.Register(reg, regErrC)
	go watchRegistrationErrors(ctx, regErrC)

	srv := &httpapi.Server{
		Orchestrator: o,
		Runs:         o.Runs,
		Limiter:      limiter,
		Hub:          stream.NewHub(),
		Tokens:       tokens,
		Log:          obslog.New("httpapi"),
	}

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if errGo := httpSrv.ListenAndServe(); errGo != nil && errGo != http.ErrServerClosed {
			logger.Error("http server exited", "error", errGo.Error())
		}
		cancel()
	}()

	watchSignals(ctx, cancel)
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	return nil
}

// watchMirrorErrors logs best-effort artifact-mirror upload failures; a
// mirror failure never fails the run that produced the artifact (spec
// SPEC_FULL.md's durability add-on is deliberately off the hot path).
func watchMirrorErrors(ctx context.Context, errC <-chan kv.Error) {
	for {
		select {
		case e := <-errC:
			if e != nil {
				logger.Warn("artifact mirror upload failed", "error", e.Error())
			}
		case <-ctx.Done():
			return
		}
	}
}

func watchRegistrationErrors(ctx context.Context, errC <-chan error) {
	for {
		select {
		case e := <-errC:
			if e != nil {
				logger.Warn("metrics registration error", "error", e.Error())
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchSignals arranges for SIGINT/SIGTERM to cancel ctx, matching the
// teacher's CTRL-C handling in cmd/runner/main.go.
func watchSignals(ctx context.Context, cancel context.CancelFunc) {
	stopC := make(chan os.Signal, 2)
	signal.Notify(stopC, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-stopC:
			logger.Warn("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
}
