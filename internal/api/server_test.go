package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeRuntime struct {
	mu     sync.Mutex
	status runtime.Status
	calls  []string
}

func (f *fakeRuntime) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context) error {
	f.record("start")
	f.mu.Lock()
	f.status = runtime.StatusRunning
	f.mu.Unlock()
	return nil
}
func (f *fakeRuntime) Stop(ctx context.Context) error    { return f.record("stop") }
func (f *fakeRuntime) Pause(ctx context.Context) error   { return f.record("pause") }
func (f *fakeRuntime) Unpause(ctx context.Context) error { return f.record("unpause") }
func (f *fakeRuntime) Status(ctx context.Context) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

type fakeGuest struct {
	reachable bool
	apps      []guest.App
}

func (f *fakeGuest) Ping(ctx context.Context) bool { return f.reachable }
func (f *fakeGuest) ListApps(ctx context.Context) ([]guest.App, error) {
	if !f.reachable {
		return nil, context.DeadlineExceeded
	}
	return f.apps, nil
}
func (f *fakeGuest) Metrics(ctx context.Context) (*guest.Metrics, error) {
	if !f.reachable {
		return nil, context.DeadlineExceeded
	}
	return &guest.Metrics{CPUPercent: 12.5, RAMPercent: 40}, nil
}

func (f *fakeGuest) Launch(ctx context.Context, app guest.App) error { return nil }

type fakeChecker struct {
	status *image.UpdateStatus
	err    error
}

func (f *fakeChecker) Check(ctx context.Context) (*image.UpdateStatus, error) {
	return f.status, f.err
}

type testEnv struct {
	server *Server
	rt     *fakeRuntime
	g      *fakeGuest
	cfg    *config.Config
	db     *registry.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.ComposePath = filepath.Join(dir, "winbox.compose.yaml")
	cfg.DBPath = filepath.Join(dir, "winbox.db")
	cfg.LogsDir = filepath.Join(dir, "logs")
	cfg.MasterKeyPath = filepath.Join(dir, "master.key")
	cfg.SocketPath = filepath.Join(dir, "winboxd.sock")

	def := compose.Default(cfg.ImageRef, cfg.ContainerName, cfg.GuestAPIPort, cfg.RDPPort)
	require.NoError(t, def.Save(cfg.ComposePath))
	mapper, err := def.PortMapper()
	require.NoError(t, err)
	mapper.SetMapping(uint16(cfg.GuestAPIPort), compose.Port(54321), compose.WithHostIP("127.0.0.1"))

	db, err := registry.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := secrets.NewStore(cfg.MasterKeyPath, db)
	require.NoError(t, err)

	rt := &fakeRuntime{status: runtime.StatusRunning}
	g := &fakeGuest{reachable: true, apps: []guest.App{
		{Name: "Notepad", Path: `C:\Windows\notepad.exe`},
	}}

	l := launcher.New(rt, mapper, launcher.ProberFunc(func(ctx context.Context) bool { return g.reachable }),
		launcher.WithPollInterval(5*time.Millisecond),
		launcher.WithGrace(5*time.Millisecond),
		launcher.WithOnlineAttempts(3),
		launcher.WithResolveAttempts(3),
		launcher.WithGuestDialer(func(hostPort int) launcher.GuestAPI { return g }),
	)

	s := NewServer(Deps{
		Config:   cfg,
		Runtime:  rt,
		Launcher: l,
		Def:      def,
		Mapper:   mapper,
		DB:       db,
		Secrets:  store,
		Checker:  &fakeChecker{status: &image.UpdateStatus{ImageRef: cfg.ImageRef}},
		Logs:     logstore.NewStore(cfg.LogsDir),
	})
	s.guestFor = func(hostPort int) GuestClient { return g }

	return &testEnv{server: s, rt: rt, g: g, cfg: cfg, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Daemon)
	assert.Equal(t, runtime.StatusRunning, resp.Container)
	assert.True(t, resp.GuestReachable)
}

func TestListApps_LiveAndCached(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/apps", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var live []appResponse
	decode(t, w, &live)
	require.Len(t, live, 1)
	assert.True(t, live[0].Live)
	assert.Equal(t, "Notepad", live[0].Name)

	// Guest goes away: the cache keeps serving.
	e.g.reachable = false
	w = e.do(t, "GET", "/v1/apps", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var cached []appResponse
	decode(t, w, &cached)
	require.Len(t, cached, 1)
	assert.False(t, cached[0].Live)
	assert.Equal(t, `C:\Windows\notepad.exe`, cached[0].Path)
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var m guest.Metrics
	decode(t, w, &m)
	assert.Equal(t, 12.5, m.CPUPercent)

	e.g.reachable = false
	w = e.do(t, "GET", "/v1/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLaunchFlow(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/v1/launch", map[string]string{"name": "Notepad"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Poll progress until terminal.
	deadline := time.Now().Add(2 * time.Second)
	var prog launcher.Progress
	for time.Now().Before(deadline) {
		w = e.do(t, "GET", "/v1/launch", nil)
		decode(t, w, &prog)
		if prog.Phase == launcher.PhaseCompleted || prog.Phase == launcher.PhaseFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, launcher.PhaseCompleted, prog.Phase)

	// Outcome landed in launch history.
	deadline = time.Now().Add(2 * time.Second)
	var launches []*registry.Launch
	for time.Now().Before(deadline) {
		var err error
		launches, err = e.db.ListLaunches(5)
		require.NoError(t, err)
		if len(launches) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, launches)
	assert.Equal(t, "completed", launches[0].Outcome)
	assert.Equal(t, "Notepad", launches[0].AppName)
}

func TestLaunch_MissingName(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/v1/launch", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelLaunch_NoneInFlight(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "DELETE", "/v1/launch", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPorts_ListAndSet(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/ports", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Ports []string `json:"ports"`
	}
	decode(t, w, &listResp)
	assert.Contains(t, listResp.Ports, "127.0.0.1:54321:7148/tcp")

	w = e.do(t, "PUT", "/v1/ports", map[string]interface{}{
		"guest_port": 7148,
		"host_port":  55000,
		"host_ip":    "127.0.0.1",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	var setResp struct {
		Ports []string `json:"ports"`
	}
	decode(t, w, &setResp)
	assert.Contains(t, setResp.Ports, "127.0.0.1:55000:7148/tcp")
	assert.NotContains(t, setResp.Ports, "127.0.0.1:54321:7148/tcp")

	// Persisted: reload the definition from disk.
	def, err := compose.Load(e.cfg.ComposePath)
	require.NoError(t, err)
	m, err := def.PortMapper()
	require.NoError(t, err)
	spec, ok := m.Lookup(7148, "tcp")
	require.True(t, ok)
	assert.Equal(t, uint16(55000), spec.Host.Start)
}

func TestPorts_BadProtocol(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "PUT", "/v1/ports", map[string]interface{}{
		"guest_port": 7148,
		"host_port":  55000,
		"protocol":   "sctp",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecretsRoundTrip(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "PUT", "/v1/secrets/guest-password", map[string]string{"value": "hunter2"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "GET", "/v1/secrets", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Names []string `json:"names"`
	}
	decode(t, w, &listResp)
	assert.Equal(t, []string{"guest-password"}, listResp.Names)
	assert.NotContains(t, w.Body.String(), "hunter2")

	w = e.do(t, "DELETE", "/v1/secrets/guest-password", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "DELETE", "/v1/secrets/guest-password", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRDPInfo(t *testing.T) {
	e := newTestEnv(t)

	// Default credentials until secrets are stored.
	w := e.do(t, "GET", "/v1/rdp", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var info rdpInfoResponse
	decode(t, w, &info)
	assert.Equal(t, "127.0.0.1", info.Host)
	assert.Equal(t, e.cfg.RDPPort, info.Port)
	assert.Equal(t, "Docker", info.Username)
	assert.Empty(t, info.Password)

	w = e.do(t, "PUT", "/v1/secrets/"+secrets.NameGuestUsername, map[string]string{"value": "alice"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, "PUT", "/v1/secrets/"+secrets.NameGuestPassword, map[string]string{"value": "hunter2"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "GET", "/v1/rdp", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &info)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "hunter2", info.Password)
}

func TestUpdateCheck(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/update", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var status image.UpdateStatus
	decode(t, w, &status)
	assert.Equal(t, e.cfg.ImageRef, status.ImageRef)
}

func TestContainerActions(t *testing.T) {
	e := newTestEnv(t)

	for _, action := range []string{"start", "stop", "pause", "unpause"} {
		w := e.do(t, "POST", "/v1/container/"+action, nil)
		assert.Equal(t, http.StatusNoContent, w.Code, action)
	}
	assert.Equal(t, []string{"start", "stop", "pause", "unpause"}, e.rt.calls)

	w := e.do(t, "POST", "/v1/container/reboot", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnostics(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "GET", "/v1/diagnostics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "winbox-diagnostics-")
	assert.NotZero(t, w.Body.Len())
}

func TestLogs(t *testing.T) {
	e := newTestEnv(t)
	e.server.logs.Append(logstore.ComponentLauncher, "info", "hello")

	w := e.do(t, "GET", "/v1/logs/launcher", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []logstore.Entry `json:"entries"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "hello", resp.Entries[0].Line)
}
