package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/handlers"
	"github.com/vango-go/vai-callcore/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcore/pkg/gateway/mw"
	"github.com/vango-go/vai-callcore/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-callcore/pkg/store"
)

// Calls is everything the HTTP surface needs from the call orchestrator.
// *calls.Orchestrator satisfies it.
type Calls interface {
	handlers.CallEventHandler
	handlers.StreamRegistry
	handlers.CallRegistry
	handlers.CallCounter
}

type Dependencies struct {
	Calls     Calls
	Scripts   handlers.ScriptLister
	Archive   store.Archive
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

type Server struct {
	cfg     config.Config
	deps    Dependencies
	logger  *slog.Logger
	mux     *http.ServeMux
	limiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.LimitRPS,
			Burst: cfg.LimitBurst,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle, Calls: s.deps.Calls})

	s.mux.Handle("/webhooks/calls", handlers.WebhookHandler{
		Config:    s.cfg,
		Calls:     s.deps.Calls,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/stream/", handlers.StreamHandler{
		Config:    s.cfg,
		Calls:     s.deps.Calls,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	})

	calls := handlers.CallsHandler{Calls: s.deps.Calls, Archive: s.deps.Archive, Logger: s.logger}
	s.mux.Handle("/v1/calls", calls)
	s.mux.Handle("/v1/calls/", calls)
	s.mux.Handle("/v1/scripts", handlers.ScriptsHandler{Scripts: s.deps.Scripts, DefaultScript: s.cfg.DefaultScript})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Lifecycle is the draining state shared with the handlers.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.deps.Lifecycle
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
