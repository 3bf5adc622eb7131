package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xfeldman/winbox/internal/compose"
	"github.com/xfeldman/winbox/internal/guest"
	"github.com/xfeldman/winbox/internal/launcher"
	"github.com/xfeldman/winbox/internal/logstore"
	"github.com/xfeldman/winbox/internal/registry"
	"github.com/xfeldman/winbox/internal/runtime"
	"github.com/xfeldman/winbox/internal/secrets"
)

type statusResponse struct {
	Daemon         string            `json:"daemon"`
	Container      runtime.Status    `json:"container"`
	GuestReachable bool              `json:"guest_reachable"`
	Launch         launcher.Progress `json:"launch"`
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.rt.Status(c.Request.Context())
	if err != nil {
		log.Printf("status: %v", err)
		status = runtime.StatusUnknown
	}

	reachable := false
	if status == runtime.StatusRunning {
		if g, ok := s.guestClient(); ok {
			reachable = g.Ping(c.Request.Context())
		}
	}

	c.JSON(http.StatusOK, statusResponse{
		Daemon:         "ok",
		Container:      status,
		GuestReachable: reachable,
		Launch:         s.launcher.Progress(),
	})
}

// guestClient resolves the guest API's host port through the mapper and
// builds a client for it.
func (s *Server) guestClient() (GuestClient, bool) {
	spec, ok := s.mapper.Lookup(uint16(s.cfg.GuestAPIPort), compose.ProtocolTCP)
	if !ok || spec.Host == nil || !spec.Host.Single() {
		return nil, false
	}
	return s.guestFor(int(spec.Host.Start)), true
}

type appResponse struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Source     string `json:"source,omitempty"`
	Icon       string `json:"icon,omitempty"`
	UsageCount int    `json:"usage_count"`
	Live       bool   `json:"live"`
}

// handleListApps prefers the live guest enumeration and refreshes the
// cache from it; a stopped or unreachable guest falls back to the cache so
// the UI stays populated.
func (s *Server) handleListApps(c *gin.Context) {
	if g, ok := s.guestClient(); ok {
		if apps, err := g.ListApps(c.Request.Context()); err == nil {
			out := s.refreshAppCache(apps)
			c.JSON(http.StatusOK, out)
			return
		}
	}

	cached, err := s.db.ListApps()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]appResponse, 0, len(cached))
	for _, a := range cached {
		out = append(out, appResponse{
			Name: a.Name, Path: a.Path, Source: a.Source, Icon: a.Icon,
			UsageCount: a.UsageCount,
		})
	}
	c.JSON(http.StatusOK, out)
}

// refreshAppCache replaces the cached list with the live one, preserving
// usage counters for apps that persist across enumerations.
func (s *Server) refreshAppCache(live []guest.App) []appResponse {
	usage := map[string]int{}
	if cached, err := s.db.ListApps(); err == nil {
		for _, a := range cached {
			usage[a.Path] = a.UsageCount
		}
	}

	regApps := make([]*registry.App, 0, len(live))
	out := make([]appResponse, 0, len(live))
	for _, a := range live {
		count := usage[a.Path]
		regApps = append(regApps, &registry.App{
			Path: a.Path, Name: a.Name, Source: a.Source, Icon: a.Icon,
			UsageCount: count,
		})
		out = append(out, appResponse{
			Name: a.Name, Path: a.Path, Source: a.Source, Icon: a.Icon,
			UsageCount: count, Live: true,
		})
	}
	if err := s.db.ReplaceApps(regApps); err != nil {
		log.Printf("refresh app cache: %v", err)
	}
	return out
}

// handleMetrics proxies the guest's resource metrics. Only meaningful while
// the guest is reachable; everything else is 503.
func (s *Server) handleMetrics(c *gin.Context) {
	g, ok := s.guestClient()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "guest port not resolved"})
		return
	}
	m, err := g.Metrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

type launchRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleLaunch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if s.launcher.InFlight() {
		c.JSON(http.StatusConflict, gin.H{"error": launcher.ErrLaunchInFlight.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelLaunch = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		started := time.Now()
		err := s.launcher.Launch(ctx, req.Name)

		rec := &registry.Launch{
			AppName:    req.Name,
			Outcome:    "completed",
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		switch {
		case err == nil:
			s.bumpUsageByTarget(req.Name)
		case errors.Is(err, context.Canceled):
			rec.Outcome = "cancelled"
			rec.Reason = err.Error()
		case errors.Is(err, launcher.ErrLaunchInFlight):
			// racing request won; nothing to record
			return
		default:
			rec.Outcome = "failed"
			rec.Reason = err.Error()
			s.logs.Append(logstore.ComponentLauncher, "error", err.Error())
		}
		if dberr := s.db.RecordLaunch(rec); dberr != nil {
			log.Printf("record launch: %v", dberr)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"launching": req.Name})
}

// bumpUsageByTarget finds the cached app the launch target named, by name
// or by path, and bumps its usage counter.
func (s *Server) bumpUsageByTarget(target string) {
	apps, err := s.db.ListApps()
	if err != nil {
		return
	}
	for _, a := range apps {
		if strings.EqualFold(a.Name, target) || strings.EqualFold(a.Path, target) {
			s.db.BumpUsage(a.Path)
			return
		}
	}
}

func (s *Server) handleLaunchProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.launcher.Progress())
}

func (s *Server) handleCancelLaunch(c *gin.Context) {
	s.mu.Lock()
	cancel := s.cancelLaunch
	s.mu.Unlock()

	if cancel == nil || !s.launcher.InFlight() {
		c.JSON(http.StatusConflict, gin.H{"error": "no launch in flight"})
		return
	}
	cancel()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListPorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": s.mapper.Serialize()})
}

type setPortRequest struct {
	GuestPort uint16 `json:"guest_port" binding:"required"`
	HostPort  uint16 `json:"host_port" binding:"required"`
	Protocol  string `json:"protocol"`
	HostIP    string `json:"host_ip"`
}

// handleSetPort records a new host endpoint for a guest port and persists
// the definition. The free-port probe is advisory only; the mapping is
// recorded either way and the caller is told about the conflict.
func (s *Server) handleSetPort(c *gin.Context) {
	var req setPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []compose.SpecOption
	if req.Protocol != "" {
		if req.Protocol != compose.ProtocolTCP && req.Protocol != compose.ProtocolUDP {
			c.JSON(http.StatusBadRequest, gin.H{"error": "protocol must be tcp or udp"})
			return
		}
		opts = append(opts, compose.WithProtocol(req.Protocol))
	}
	if req.HostIP != "" {
		opts = append(opts, compose.WithHostIP(req.HostIP))
	}

	inUse := !compose.IsPortOpen(int(req.HostPort))
	s.mapper.SetMapping(req.GuestPort, compose.Port(req.HostPort), opts...)

	if err := s.def.SetPorts(s.mapper.Decls()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.def.Save(s.cfg.ComposePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ports":            s.mapper.Serialize(),
		"host_port_in_use": inUse,
	})
}

func (s *Server) handleListSecrets(c *gin.Context) {
	names, err := s.secrets.Names()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"names": names})
}

type setSecretRequest struct {
	Value string `json:"value" binding:"required"`
}

func (s *Server) handleSetSecret(c *gin.Context) {
	var req setSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}
	if err := s.secrets.Set(c.Param("name"), req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteSecret(c *gin.Context) {
	if err := s.secrets.Delete(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type rdpInfoResponse struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// handleRDPInfo resolves everything a remote-desktop client needs to reach
// the guest: the mapped RDP host endpoint and the stored credentials. The
// socket is 0600, so returning the password here exposes it to nobody the
// database does not already.
func (s *Server) handleRDPInfo(c *gin.Context) {
	spec, ok := s.mapper.Lookup(uint16(s.cfg.RDPPort), compose.ProtocolTCP)
	if !ok || spec.Host == nil || !spec.Host.Single() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rdp port not resolved"})
		return
	}

	host := spec.HostIP
	if host == "" || host == compose.DefaultHostIP {
		host = "127.0.0.1"
	}

	// Defaults match the guest image's built-in account.
	out := rdpInfoResponse{Host: host, Port: int(spec.Host.Start), Username: "Docker"}
	if v, found, err := s.secrets.Get(secrets.NameGuestUsername); err == nil && found {
		out.Username = v
	}
	if v, found, err := s.secrets.Get(secrets.NameGuestPassword); err == nil && found {
		out.Password = v
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUpdateCheck(c *gin.Context) {
	status, err := s.checker.Check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	name := logstore.BundleName(time.Now())
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	err := s.logs.ExportBundle(c.Writer, map[string]string{
		"winbox.compose.yaml": s.cfg.ComposePath,
	})
	if err != nil {
		log.Printf("diagnostics bundle: %v", err)
	}
}

func (s *Server) handleLogs(c *gin.Context) {
	component := c.Param("component")
	tail := 200
	entries := s.logs.Read(component, time.Time{}, tail)
	if entries == nil {
		entries = []logstore.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleContainerAction runs an explicit lifecycle verb. Resume strategy
// is the launcher's business during launches; this endpoint is for direct
// user control.
func (s *Server) handleContainerAction(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	switch action := c.Param("action"); action {
	case "start":
		err = s.rt.Start(ctx)
	case "stop":
		err = s.rt.Stop(ctx)
	case "pause":
		err = s.rt.Pause(ctx)
	case "unpause":
		err = s.rt.Unpause(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + action})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
