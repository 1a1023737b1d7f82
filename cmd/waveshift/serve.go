package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bnema/waveshift/config"
	"github.com/bnema/waveshift/internal/adapter/blobstore/s3"
	HTTPAdapter "github.com/bnema/waveshift/internal/adapter/http"
	"github.com/bnema/waveshift/internal/adapter/http/ratelimit"
	"github.com/bnema/waveshift/internal/adapter/processing/httpstage"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
	"github.com/bnema/waveshift/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger.Setup(os.Stdout, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Info.Printf("starting waveshift %s on port %d, public url %s", version, cfg.Port, cfg.PublicURL)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, err := s3.New(ctx, s3.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return err
	}

	stages := httpstage.NewClient(httpstage.Config{
		SeparationURL:    cfg.SeparationURL,
		TranscriptionURL: cfg.TranscriptionURL,
		SynthesisURL:     cfg.SynthesisURL,
		Timeout:          cfg.DispatchTimeout,
	})

	m := metrics.New(prometheus.NewRegistry())

	eventBus := service.NewEventBus()
	taskSvc := service.NewTaskService(store, cfg.MaxUploadBytes(), cfg.SynthesisURL != "", m).WithEvents(eventBus)
	uploadSvc := service.NewUploadService(taskSvc, blobs, service.UploadConfig{
		PartSize:       cfg.PartSizeBytes(),
		PartURLTTL:     cfg.PartURLTTL,
		DownloadURLTTL: cfg.DownloadURLTTL,
	}, m)
	dispatcher := service.NewDispatcher(taskSvc, stages, cfg.CallbackURL(), m)
	callbackSvc := service.NewCallbackService(taskSvc, store, dispatcher, cfg.CallbackSecret, m)
	statusSvc := service.NewStatusService(taskSvc, eventBus, cfg.StreamInterval, m)
	authSvc := service.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)

	limiter := ratelimit.NewFailureLimiter(5, 15*time.Minute, ratelimit.NewBackoff(time.Minute, 30*time.Minute, 2.0))
	defer limiter.Close()

	server := HTTPAdapter.NewServer(HTTPAdapter.Deps{
		Auth:        authSvc,
		Tasks:       taskSvc,
		Uploads:     uploadSvc,
		Dispatcher:  dispatcher,
		Callbacks:   callbackSvc,
		Status:      statusSvc,
		Transcripts: store,
		Limiter:     limiter,
		Metrics:     m.Handler(),
		BehindProxy: cfg.BehindProxy,
	})

	reaper := service.NewReaper(taskSvc, cfg.StaleTaskTimeout, cfg.ReaperInterval, m)
	go reaper.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	httpServer := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info.Printf("server listening on %s", addr)
	if err := runHTTP(ctx, httpServer, ln, shutdownGrace); err != nil {
		return err
	}
	logger.Info.Printf("shutdown complete")
	return nil
}

const (
	shutdownGrace = 5 * time.Second
	shutdownFinal = 25 * time.Second
)

// runHTTP serves on ln until ctx is done, then shuts srv down. Requests in
// flight get grace to finish with their contexts intact. Status streams only
// end when their context does, so request contexts are cancelled once grace
// has passed and whatever is still open gets a final window to return.
func runHTTP(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info.Printf("shutting down")

	graceCtx, graceCancel := context.WithTimeout(context.Background(), grace)
	defer graceCancel()
	err := srv.Shutdown(graceCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		baseCancel()
		finalCtx, finalCancel := context.WithTimeout(context.Background(), shutdownFinal)
		defer finalCancel()
		err = srv.Shutdown(finalCtx)
	}
	if err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}
	return nil
}
