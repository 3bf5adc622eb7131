// winboxd is the winbox daemon: the local control plane for the Windows
// container and its applications.
//
// It listens on a unix socket and provides an HTTP API for container
// lifecycle, app launching, port mappings, secrets, and diagnostics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/xfeldman/winbox/internal/api"
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

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	log.Printf("winboxd starting (container %s, image %s)", cfg.ContainerName, cfg.ImageRef)

	// Load the container definition, writing the default on first run.
	def, err := compose.Load(cfg.ComposePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load definition: %v", err)
		}
		def = compose.Default(cfg.ImageRef, cfg.ContainerName, cfg.GuestAPIPort, cfg.RDPPort)
		if err := def.Save(cfg.ComposePath); err != nil {
			log.Fatalf("write default definition: %v", err)
		}
		log.Printf("wrote default definition to %s", cfg.ComposePath)
	}

	mapper, err := def.PortMapper()
	if err != nil {
		log.Fatalf("port mappings: %v", err)
	}

	// Open registry database
	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()
	log.Printf("registry: %s", cfg.DBPath)

	// Initialize secret store
	ss, err := secrets.NewStore(cfg.MasterKeyPath, reg)
	if err != nil {
		log.Fatalf("init secret store: %v", err)
	}
	log.Printf("secret store: %s", cfg.MasterKeyPath)

	logs := logstore.NewStore(cfg.LogsDir)
	defer logs.Close()

	rt := runtime.NewCompose(cfg.ComposePath, cfg.ContainerName)

	// Guest reachability probe: ping the guest API through its mapped
	// host port. Unresolved mappings just mean "not yet".
	prober := launcher.ProberFunc(func(ctx context.Context) bool {
		spec, ok := mapper.Lookup(uint16(cfg.GuestAPIPort), compose.ProtocolTCP)
		if !ok || spec.Host == nil || !spec.Host.Single() {
			return false
		}
		return guest.NewClient(int(spec.Host.Start)).Ping(ctx)
	})

	l := launcher.New(rt, mapper, prober,
		launcher.WithPollInterval(cfg.PollInterval),
		launcher.WithOnlineAttempts(cfg.OnlineAttempts),
		launcher.WithResolveAttempts(cfg.ResolveAttempts),
		launcher.WithGrace(cfg.LaunchGrace),
		launcher.WithGuestAPIPort(uint16(cfg.GuestAPIPort)),
		launcher.WithProgressFunc(func(p launcher.Progress) {
			logs.Append(logstore.ComponentLauncher, "info",
				fmt.Sprintf("%s: %s", p.TargetApp, p.Phase))
		}),
		launcher.WithLaunchResultFunc(func(app string, err error) {
			if err != nil {
				logs.Append(logstore.ComponentGuest, "error",
					fmt.Sprintf("%s: session ended with error: %v", app, err))
				return
			}
			logs.Append(logstore.ComponentGuest, "info",
				fmt.Sprintf("%s: session ended", app))
		}),
	)

	checker := image.NewChecker(reg, cfg.ImageRef)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Runtime:  rt,
		Launcher: l,
		Def:      def,
		Mapper:   mapper,
		DB:       reg,
		Secrets:  ss,
		Checker:  checker,
		Logs:     logs,
	})
	if err := server.Start(); err != nil {
		log.Fatalf("start API server: %v", err)
	}

	// Write PID file
	pidPath := cfg.DataDir + "/winboxd.pid"
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(pidPath)

	// Notify systemd for Type=notify units; a no-op elsewhere.
	if sent, err := sdaemon.SdNotify(false, sdaemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify: %v", err)
	} else if sent {
		log.Printf("notified systemd of readiness")
	}

	logs.Append(logstore.ComponentDaemon, "info", "winboxd ready")
	log.Printf("winboxd ready (pid %d, socket %s)", os.Getpid(), cfg.SocketPath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)
	logs.Append(logstore.ComponentDaemon, "info", "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("stop API server: %v", err)
	}
}
