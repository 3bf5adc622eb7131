//go:build uifrontend

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"github.com/xfeldman/winbox/internal/client"
)

// setupSystemTray configures the system tray icon, menu, and window behavior.
//
// Behavior:
//   - Left-click tray icon → toggle window visibility
//   - Right-click → menu with container state, guest app list, quit
//   - Close window (X button) → hide to tray, app stays running
//   - "Quit winbox" in menu → app exits, winboxd keeps running
func setupSystemTray(app *application.App, window *application.WebviewWindow) {
	tray := app.SystemTray.New()

	// Template icon: macOS tints it for dark/light mode automatically.
	tray.SetTemplateIcon(generateTrayIcon())
	tray.SetTooltip("winbox")

	// Build initial menu (updated every 10s with live data).
	menu := buildTrayMenu(app, window, nil, nil)
	tray.SetMenu(menu)

	// Left-click: toggle window visibility.
	tray.OnClick(func() {
		if window.IsVisible() {
			window.Hide()
		} else {
			window.Show()
		}
	})

	// Intercept window close → hide to tray instead of quitting.
	window.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		e.Cancel()
		window.Hide()
	})

	// Poll the daemon to keep the tray menu up to date.
	go pollTrayState(app, tray, window)
}

// buildTrayMenu creates a tray menu with the container state and app list.
func buildTrayMenu(app *application.App, window *application.WebviewWindow, status *client.Status, apps []client.App) *application.Menu {
	menu := application.NewMenu()

	menu.Add("Open winbox").OnClick(func(ctx *application.Context) {
		window.Show()
	})

	menu.AddSeparator()

	if status == nil {
		menu.Add("winboxd not running").SetEnabled(false)
	} else {
		label := fmt.Sprintf("%s container (%s)", stateIndicator(status.Container), status.Container)
		menu.Add(label).SetEnabled(false)
	}

	menu.AddSeparator()

	if len(apps) == 0 {
		menu.Add("No applications").SetEnabled(false)
	} else {
		c := client.NewDefault()
		for _, a := range apps {
			name := a.Name
			menu.Add(name).OnClick(func(ctx *application.Context) {
				go c.Launch(context.Background(), name)
			})
		}
	}

	menu.AddSeparator()

	menu.Add("Quit winbox").OnClick(func(ctx *application.Context) {
		app.Quit()
	})

	return menu
}

// stateIndicator returns a Unicode dot/circle for the container state.
func stateIndicator(state string) string {
	switch state {
	case "running":
		return "●"
	case "paused":
		return "◐"
	default:
		return "○"
	}
}

// pollTrayState periodically fetches daemon state and rebuilds the tray menu.
func pollTrayState(app *application.App, tray *application.SystemTray, window *application.WebviewWindow) {
	c := client.NewDefault()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	// Initial update after a short delay (let the app settle).
	time.Sleep(2 * time.Second)
	updateTrayMenu(c, app, tray, window)

	for range ticker.C {
		updateTrayMenu(c, app, tray, window)
	}
}

func updateTrayMenu(c *client.Client, app *application.App, tray *application.SystemTray, window *application.WebviewWindow) {
	status, err := c.Status(context.Background())
	if err != nil {
		tray.SetMenu(buildTrayMenu(app, window, nil, nil))
		return
	}

	apps, err := c.ListApps(context.Background())
	if err != nil {
		apps = nil // Daemon up but container offline: keep the state line
	}

	tray.SetMenu(buildTrayMenu(app, window, status, apps))
}
