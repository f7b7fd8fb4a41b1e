package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/dappkit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ModuleName is the name of this module
const ModuleName = "httpapi"

// ServiceName is the name of the service provided by this module
const ServiceName = "httpapi.routes"

// BasePath prefixes every mounted route.
const BasePath = "/api"

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("http api already started")

// RouteProvider contributes routes below BasePath.
type RouteProvider interface {
	Routes(r chi.Router)
}

// Registrar is the service other modules use to mount their routes.
type Registrar interface {
	Mount(provider RouteProvider)
}

// Module hosts the API router and its HTTP server.
type Module struct {
	config *Config
	logger dappkit.Logger

	mu        sync.Mutex
	providers []RouteProvider
	handler   http.Handler
	server    *http.Server
	listener  net.Listener
	serveErr  chan error
}

// NewModule creates the HTTP API module
func NewModule() *Module {
	return &Module{logger: dappkit.NopLogger()}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// RegisterConfig registers the httpapi section with its defaults
func (m *Module) RegisterConfig(app dappkit.Application) error {
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}
	app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(DefaultConfig()))
	return nil
}

// Init registers the module as the route registrar
func (m *Module) Init(app dappkit.Application) error {
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	m.config = cp.GetConfig().(*Config)
	m.logger = app.Logger()
	return app.RegisterService(ServiceName, m)
}

// Mount adds a route provider. Providers mounted after the router has been
// built are ignored with a warning.
func (m *Module) Mount(provider RouteProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		m.logger.Warn("Route provider mounted after start, ignoring", "provider", fmt.Sprintf("%T", provider))
		return
	}
	m.providers = append(m.providers, provider)
}

// Handler builds the router on first use and returns it.
func (m *Module) Handler() http.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		m.handler = m.buildRouter()
	}
	return m.handler
}

func (m *Module) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(m.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route(BasePath, func(r chi.Router) {
		for _, p := range m.providers {
			p.Routes(r)
		}
	})
	return r
}

func (m *Module) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start listens on the configured address and serves in the background.
func (m *Module) Start(context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	handler := m.Handler()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", m.config.Address)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", m.config.Address, err)
	}
	m.listener = ln
	m.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  m.config.ReadTimeout,
		WriteTimeout: m.config.WriteTimeout,
		IdleTimeout:  m.config.IdleTimeout,
	}
	m.serveErr = make(chan error, 1)

	m.logger.Info("Starting HTTP API", "address", ln.Addr().String())
	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			m.logger.Error("HTTP API stopped unexpectedly", "error", err)
		}
		done <- err
	}(m.server, m.serveErr)
	return nil
}

// Stop shuts the server down gracefully.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv, done := m.server, m.serveErr
	m.server, m.listener = nil, nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP API: %w", err)
	}
	m.logger.Info("HTTP API stopped")
	return <-done
}

// Addr returns the address the server listens on, or "" when not started.
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}
