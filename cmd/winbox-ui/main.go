//go:build uifrontend

// winbox-ui is the native desktop shell for winbox.
//
// It serves a small status dashboard over local HTTP and shows it in a
// native webview via Wails v3, adding a system tray with the guest app
// list and daemon lifecycle management.
//
// Architecture: a local HTTP server handles all requests (API proxy +
// dashboard), and the Wails webview points to http://localhost:PORT. This
// avoids the WebKit WKURLSchemeHandler limitation where POST request
// bodies are dropped for custom URL schemes.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"
)

func main() {
	// Start winboxd if not running.
	ensureDaemon()

	mux := http.NewServeMux()
	mux.Handle("/api/", newWinboxdProxy())
	mux.HandleFunc("/", handleDashboard)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("winbox-ui: listen: %v", err)
	}
	uiAddr := listener.Addr().String()
	go http.Serve(listener, mux)

	app := application.New(application.Options{
		Name: "winbox",
	})

	window := app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:  "winbox",
		URL:    "http://" + uiAddr,
		Width:  900,
		Height: 620,
	})

	setupSystemTray(app, window)

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

// newWinboxdProxy creates a reverse proxy that forwards /api/* to winboxd
// via the unix socket. Strips the /api prefix so /api/v1/apps → /v1/apps.
func newWinboxdProxy() *httputil.ReverseProxy {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = 5 * time.Second
			return d.DialContext(ctx, "unix", socketPath())
		},
		ResponseHeaderTimeout: 30 * time.Second,
	}

	director := func(req *http.Request) {
		req.URL.Scheme = "http"
		req.URL.Host = "winbox"
		req.URL.Path = strings.TrimPrefix(req.URL.Path, "/api")
	}

	return &httputil.ReverseProxy{
		Director:  director,
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"winboxd not running"}`))
		},
	}
}

// handleDashboard serves the status page. All data comes from /api/*
// calls made by the page itself, so the markup is static.
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>winbox</title>
<style>
  body { font-family: -apple-system, system-ui, sans-serif; margin: 0; background: #15171c; color: #e6e8ee; }
  header { padding: 14px 20px; border-bottom: 1px solid #2a2e38; display: flex; gap: 16px; align-items: baseline; }
  header h1 { font-size: 16px; margin: 0; }
  #status { font-size: 13px; color: #9aa0ae; }
  main { padding: 16px 20px; }
  .app { display: flex; justify-content: space-between; align-items: center; padding: 10px 12px; border-bottom: 1px solid #22252d; }
  .app .path { color: #9aa0ae; font-size: 12px; }
  button { background: #2d6cdf; color: white; border: 0; border-radius: 6px; padding: 6px 14px; cursor: pointer; }
  button:disabled { background: #3a3f4b; cursor: default; }
  #phase { margin: 8px 0 16px; font-size: 13px; color: #9aa0ae; min-height: 1em; }
</style>
</head>
<body>
<header><h1>winbox</h1><span id="status">connecting…</span></header>
<main>
  <div id="phase"></div>
  <div id="apps"></div>
</main>
<script>
async function refreshStatus() {
  try {
    const s = await (await fetch('/api/v1/status')).json();
    document.getElementById('status').textContent =
      'container ' + s.container + ' · guest ' + (s.guest_reachable ? 'online' : 'offline');
    const launching = s.launch && s.launch.phase && !['idle','completed','failed','cancelled'].includes(s.launch.phase);
    document.getElementById('phase').textContent =
      launching ? s.launch.phase + ': ' + s.launch.target_app : (s.launch && s.launch.reason ? s.launch.reason : '');
    for (const b of document.querySelectorAll('button')) b.disabled = launching;
  } catch (e) {
    document.getElementById('status').textContent = 'winboxd not running';
  }
}
async function refreshApps() {
  try {
    const apps = await (await fetch('/api/v1/apps')).json();
    const el = document.getElementById('apps');
    el.innerHTML = '';
    for (const a of apps || []) {
      const row = document.createElement('div');
      row.className = 'app';
      const info = document.createElement('div');
      info.innerHTML = '<div>' + a.name + '</div><div class="path">' + a.path + '</div>';
      const btn = document.createElement('button');
      btn.textContent = 'Launch';
      btn.onclick = () => fetch('/api/v1/launch', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({name: a.name}),
      });
      row.append(info, btn);
      el.append(row);
    }
  } catch (e) {}
}
refreshStatus(); refreshApps();
setInterval(refreshStatus, 2000);
setInterval(refreshApps, 15000);
</script>
</body>
</html>
`
