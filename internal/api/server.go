// Package api serves the winboxd HTTP API on a unix socket.
package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xfeldman/winbox/internal/compose"
	"github.com/xfeldman/winbox/internal/config"
	"github.com/xfeldman/winbox/internal/guest"
	"github.com/xfeldman/winbox/internal/image"
	"github.com/xfeldman/winbox/internal/launcher"
	"github.com/xfeldman/winbox/internal/logstore"
	"github.com/xfeldman/winbox/internal/registry"
	"github.com/xfeldman/winbox/internal/runtime"
	"github.com/xfeldman/winbox/internal/secrets"
)

// GuestClient is the slice of the guest API the server consumes.
type GuestClient interface {
	Ping(ctx context.Context) bool
	ListApps(ctx context.Context) ([]guest.App, error)
	Metrics(ctx context.Context) (*guest.Metrics, error)
}

// UpdateChecker reports whether a newer container image is available.
type UpdateChecker interface {
	Check(ctx context.Context) (*image.UpdateStatus, error)
}

// Server is the winboxd HTTP API server.
type Server struct {
	cfg      *config.Config
	rt       runtime.Runtime
	launcher *launcher.Launcher
	def      *compose.Definition
	mapper   *compose.PortMapper
	db       *registry.DB
	secrets  *secrets.Store
	checker  UpdateChecker
	logs     *logstore.Store

	// guestFor builds a guest client for a resolved host port; swapped in
	// tests.
	guestFor func(hostPort int) GuestClient

	engine *gin.Engine
	server *http.Server
	ln     net.Listener

	mu           sync.Mutex
	cancelLaunch context.CancelFunc
}

// Deps bundles the collaborators the server exposes.
type Deps struct {
	Config   *config.Config
	Runtime  runtime.Runtime
	Launcher *launcher.Launcher
	Def      *compose.Definition
	Mapper   *compose.PortMapper
	DB       *registry.DB
	Secrets  *secrets.Store
	Checker  UpdateChecker
	Logs     *logstore.Store
}

// NewServer creates the API server and registers its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		rt:       d.Runtime,
		launcher: d.Launcher,
		def:      d.Def,
		mapper:   d.Mapper,
		db:       d.DB,
		secrets:  d.Secrets,
		checker:  d.Checker,
		logs:     d.Logs,
		guestFor: func(hostPort int) GuestClient {
			return guest.NewClient(hostPort)
		},
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	s.registerRoutes(r)
	s.engine = r
	s.server = &http.Server{Handler: r}
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/apps", s.handleListApps)
		v1.GET("/metrics", s.handleMetrics)

		v1.POST("/launch", s.handleLaunch)
		v1.GET("/launch", s.handleLaunchProgress)
		v1.DELETE("/launch", s.handleCancelLaunch)

		v1.GET("/ports", s.handleListPorts)
		v1.PUT("/ports", s.handleSetPort)

		v1.GET("/secrets", s.handleListSecrets)
		v1.PUT("/secrets/:name", s.handleSetSecret)
		v1.DELETE("/secrets/:name", s.handleDeleteSecret)

		v1.GET("/rdp", s.handleRDPInfo)

		v1.GET("/update", s.handleUpdateCheck)
		v1.GET("/diagnostics", s.handleDiagnostics)
		v1.GET("/logs/:component", s.handleLogs)

		v1.POST("/container/:action", s.handleContainerAction)
	}
}

// Handler exposes the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening on the unix socket.
func (s *Server) Start() error {
	// Remove stale socket
	os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln
	os.Chmod(s.cfg.SocketPath, 0600)

	log.Printf("winboxd API listening on %s", s.cfg.SocketPath)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
