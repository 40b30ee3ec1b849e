// Package server binds the gateway to its HTTP surface: the OpenAI-style
// completion endpoints, health and stats, and the admin key management API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geminigate/geminigate/cache"
	"github.com/geminigate/geminigate/config"
	"github.com/geminigate/geminigate/dispatch"
	"github.com/geminigate/geminigate/keypool"
	"github.com/geminigate/geminigate/monitor"
	"github.com/geminigate/geminigate/translate"
)

type (
	// Server wires the dispatcher, pool and observability into HTTP
	// handlers.
	Server struct {
		cfg        *config.Config
		pool       *keypool.Pool
		dispatcher *dispatch.Dispatcher
		translator *translate.Translator
		cache      *cache.Cache
		errors     *monitor.Errors
		perf       *monitor.Performance
		limiter    *clientLimiter
	}

	// Options collects the Server dependencies.
	Options struct {
		Config     *config.Config
		Pool       *keypool.Pool
		Dispatcher *dispatch.Dispatcher
		Translator *translate.Translator
		Cache      *cache.Cache
		Errors     *monitor.Errors
		Perf       *monitor.Performance
	}
)

// New constructs a Server.
func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		pool:       opts.Pool,
		dispatcher: opts.Dispatcher,
		translator: opts.Translator,
		cache:      opts.Cache,
		errors:     opts.Errors,
		perf:       opts.Perf,
	}
	if s.cfg.RateLimitEnabled {
		s.limiter = newClientLimiter(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow)
	}
	return s
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.clientAuth)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChat)
		r.Get("/v1/models", s.handleModels)
		r.Get("/stats", s.handleStats)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/admin/keys", s.handleAdminList)
		r.Post("/admin/keys", s.handleAdminAdd)
		r.Delete("/admin/keys", s.handleAdminRemove)
		r.Put("/admin/keys/{prefix}", s.handleAdminSetStatus)
	})
	return r
}
