package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-callcore/internal/dotenv"
	"github.com/vango-go/vai-callcore/pkg/core/script"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/server"
	"github.com/vango-go/vai-callcore/pkg/store"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	openArchive  func(context.Context, store.Config, *slog.Logger) (store.Archive, error)
	buildFactory func(context.Context, config.Config, *slog.Logger) (pipelineFactory, error)
	listen       func(*http.Server) error
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig:   config.LoadFromEnv,
		openArchive:  store.Open,
		buildFactory: buildPipelineFactory,
		listen:       func(s *http.Server) error { return s.ListenAndServe() },
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newServeCmd(deps serveDeps) *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, media stream and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dotenv.LoadFile(envFile); err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, deps)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	return cmd
}

func buildPipelineFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (pipelineFactory, error) {
	client := newHTTPClient()
	model, err := newLLM(ctx, cfg, client)
	if err != nil {
		return pipelineFactory{}, err
	}
	transcriber, err := newSTT(cfg, client)
	if err != nil {
		return pipelineFactory{}, err
	}
	synthesizer, err := newTTS(cfg, client)
	if err != nil {
		return pipelineFactory{}, err
	}
	return pipelineFactory{cfg: cfg, llm: model, transcriber: transcriber, synthesizer: synthesizer, logger: logger}, nil
}

// loadScripts serves every script under dir. A missing directory yields an
// empty set so calls fall back to the default prompt.
func loadScripts(dir string, logger *slog.Logger) (scriptSet, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("scripts directory not found", "dir", dir)
			return script.StaticSource{}, nil
		}
		return nil, fmt.Errorf("scripts dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scripts dir %q is not a directory", dir)
	}
	src, err := script.NewDirSource(os.DirFS(dir), logger)
	if err != nil {
		return nil, err
	}
	for _, issue := range src.Issues() {
		logger.Warn("script file skipped", "path", issue.Path, "error", issue.Err)
	}
	logger.Info("scripts loaded", "dir", dir, "count", len(src.Names()))
	return src, nil
}

type scriptSet interface {
	script.Source
	Names() []string
}

func runServe(ctx context.Context, cmd *cobra.Command, deps serveDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)

	scripts, err := loadScripts(cfg.ScriptsDir, logger)
	if err != nil {
		return err
	}
	if cfg.DefaultScript != "" {
		if _, err := scripts.Load(ctx, cfg.DefaultScript); err != nil {
			return fmt.Errorf("default script: %w", err)
		}
	}

	archive, err := deps.openArchive(ctx, cfg.Store(), logger)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	if archive != nil {
		defer archive.Close()
	}

	factory, err := deps.buildFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}

	orch, err := calls.New(calls.Dependencies{
		MaxSessions:    cfg.MaxSessions,
		EvictionGrace:  cfg.EvictionGrace,
		RingingTimeout: cfg.RingingTimeout,
		NewManager:     factory.newManager,
		NewCoordinator: factory.newCoordinator,
		Scripts:        scripts,
		DefaultScript:  cfg.DefaultScript,
		Archive:        archive,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	janitor, err := calls.NewJanitor(orch, cfg.JanitorSchedule, logger)
	if err != nil {
		return err
	}

	gw := server.New(cfg, server.Dependencies{
		Calls:   orch,
		Scripts: scripts,
		Archive: archive,
		Logger:  logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	logger.Info("starting callcore", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "max_sessions", cfg.MaxSessions,
		"llm", cfg.LLMProvider, "stt", cfg.STTProvider, "tts", cfg.TTSProvider, "archive", archive != nil)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := deps.listen(httpSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}

		gw.Lifecycle().SetDraining(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if !orch.Shutdown(shutdownCtx) {
			logger.Warn("calls still running at shutdown deadline", "streaming", orch.Streaming())
		}
		stop()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("callcore stopped")
	return nil
}
