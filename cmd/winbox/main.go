// winbox is the CLI for the winbox Windows app platform.
//
// Commands:
//
//	winbox up           Start winboxd daemon
//	winbox down         Stop winboxd daemon
//	winbox status       Show daemon, container, and guest status
//	winbox apps         List guest applications
//	winbox launch       Launch a guest application
//	winbox rdp          Open a remote desktop or RemoteApp session
//	winbox ports        Show or change port mappings
//	winbox secret       Manage guest credentials
//	winbox update       Check for a newer container image
//	winbox diagnostics  Save a diagnostics bundle
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/xfeldman/winbox/internal/client"
	"github.com/xfeldman/winbox/internal/rdp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		cmdUp()
	case "down":
		cmdDown()
	case "status":
		cmdStatus()
	case "apps":
		cmdApps()
	case "launch":
		cmdLaunch()
	case "cancel":
		cmdCancel()
	case "rdp":
		cmdRDP()
	case "ports":
		cmdPorts()
	case "secret":
		cmdSecret()
	case "update":
		cmdUpdate()
	case "diagnostics":
		cmdDiagnostics()
	case "logs":
		cmdLogs()
	case "container":
		cmdContainer()
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Usage: winbox <command> [options]

Commands:
  up           Start winboxd daemon
  down         Stop winboxd daemon
  status       Show daemon, container, and guest status
  apps         List guest applications
  launch       Launch a guest application by name or path
  cancel       Cancel the in-flight launch
  rdp          Open a remote desktop session, or "rdp <app>" for one window
  ports        Show port mappings; "ports set <guest> <host> [tcp|udp] [ip]"
  secret       Manage guest credentials (set, ls, rm)
  update       Check for a newer container image
  diagnostics  Save a diagnostics bundle
  logs         Show daemon logs for a component
  container    Run a lifecycle verb (start, stop, pause, unpause)

Examples:
  winbox up
  winbox launch Notepad
  winbox ports set 7148 54321
  winbox secret set guest-password
  winbox diagnostics ./bundle.tar.gz`)
}

func daemonClient() *client.Client {
	return client.NewDefault()
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".winbox", "data", "winboxd.pid")
}

func isDaemonRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := daemonClient().Status(ctx)
	return err == nil
}

func cmdUp() {
	if isDaemonRunning() {
		fmt.Println("winboxd is already running")
		return
	}

	// Find winboxd binary next to this binary
	exe, _ := os.Executable()
	daemonBin := filepath.Join(filepath.Dir(exe), "winboxd")
	if _, err := os.Stat(daemonBin); err != nil {
		fmt.Fprintf(os.Stderr, "winboxd binary not found at %s\n", daemonBin)
		os.Exit(1)
	}

	cmd := exec.Command(daemonBin)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start winboxd: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < 20; i++ {
		time.Sleep(200 * time.Millisecond)
		if isDaemonRunning() {
			fmt.Printf("winboxd started (pid %d)\n", cmd.Process.Pid)
			return
		}
	}

	fmt.Fprintln(os.Stderr, "winboxd did not start within timeout")
	os.Exit(1)
}

func cmdDown() {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		fmt.Println("winboxd is not running")
		return
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Println("winboxd is not running (invalid pid file)")
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Println("winboxd is not running")
		return
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "send SIGTERM: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("winboxd stopping (pid %d)\n", pid)

	for i := 0; i < 50; i++ {
		if !isDaemonRunning() {
			fmt.Println("winboxd stopped")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(os.Stderr, "winboxd did not stop within timeout")
	os.Exit(1)
}

func cmdStatus() {
	c := daemonClient()
	status, err := c.Status(context.Background())
	if err != nil {
		fmt.Println("winboxd: not running")
		return
	}

	fmt.Printf("winboxd:   %s\n", status.Daemon)
	fmt.Printf("container: %s\n", status.Container)
	fmt.Printf("guest:     %s\n", reachability(status.GuestReachable))
	if status.Launch.Phase != "" && status.Launch.Phase != "idle" {
		fmt.Printf("launch:    %s (%s)\n", status.Launch.Phase, status.Launch.TargetApp)
	}
	if status.GuestReachable {
		if m, err := c.Metrics(context.Background()); err == nil {
			fmt.Printf("cpu:       %.1f%%\n", m.CPUPercent)
			fmt.Printf("ram:       %.1f%%\n", m.RAMPercent)
			if m.DiskTotal > 0 {
				fmt.Printf("disk:      %.1f%% of %d GiB\n",
					float64(m.DiskUsed)/float64(m.DiskTotal)*100,
					m.DiskTotal>>30)
			}
		}
	}
}

func reachability(ok bool) string {
	if ok {
		return "reachable"
	}
	return "unreachable"
}

func cmdApps() {
	apps, err := daemonClient().ListApps(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(apps) == 0 {
		fmt.Println("no applications found")
		return
	}
	for _, a := range apps {
		marker := " "
		if a.Live {
			marker = "*"
		}
		fmt.Printf("%s %-30s %s\n", marker, a.Name, a.Path)
	}
}

func cmdLaunch() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: winbox launch <name-or-path>")
		os.Exit(1)
	}
	name := os.Args[2]
	c := daemonClient()

	if err := c.Launch(context.Background(), name); err != nil {
		fatal(err)
	}

	// Follow progress until a terminal phase.
	last := ""
	for {
		time.Sleep(500 * time.Millisecond)
		prog, err := c.LaunchProgress(context.Background())
		if err != nil {
			fatal(err)
		}
		if prog.Phase != last {
			fmt.Printf("%s\n", prog.Phase)
			last = prog.Phase
		}
		switch prog.Phase {
		case "completed":
			return
		case "failed":
			fmt.Fprintf(os.Stderr, "launch failed: %s\n", prog.Reason)
			os.Exit(1)
		case "cancelled":
			fmt.Fprintln(os.Stderr, "launch cancelled")
			os.Exit(1)
		}
	}
}

func cmdCancel() {
	if err := daemonClient().CancelLaunch(context.Background()); err != nil {
		fatal(err)
	}
	fmt.Println("launch cancelled")
}

func cmdRDP() {
	c := daemonClient()
	info, err := c.RDPInfo(context.Background())
	if err != nil {
		fatal(err)
	}

	session := &rdp.Session{
		Host:      info.Host,
		Port:      info.Port,
		Username:  info.Username,
		Password:  info.Password,
		Clipboard: true,
		Sound:     true,
	}

	// With an app argument the session is a single RemoteApp window.
	if len(os.Args) >= 3 {
		target := os.Args[2]
		apps, err := c.ListApps(context.Background())
		if err != nil {
			fatal(err)
		}
		for _, a := range apps {
			if strings.EqualFold(a.Name, target) || strings.EqualFold(a.Path, target) {
				session.AppPath = a.Path
				session.AppName = a.Name
				break
			}
		}
		if session.AppPath == "" {
			fmt.Fprintf(os.Stderr, "no application matching %q\n", target)
			os.Exit(1)
		}
	}

	if err := rdp.NewLauncher("").Start(context.Background(), session); err != nil {
		fatal(err)
	}
	if session.AppPath != "" {
		fmt.Printf("remote app session started: %s\n", session.AppName)
	} else {
		fmt.Printf("remote desktop session started: %s:%d\n", session.Host, session.Port)
	}
}

func cmdPorts() {
	c := daemonClient()

	if len(os.Args) >= 3 && os.Args[2] == "set" {
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: winbox ports set <guest> <host> [tcp|udp] [host-ip]")
			os.Exit(1)
		}
		guestPort := parsePort(os.Args[3])
		hostPort := parsePort(os.Args[4])
		req := client.SetPortRequest{GuestPort: guestPort, HostPort: hostPort}
		if len(os.Args) >= 6 {
			req.Protocol = os.Args[5]
		}
		if len(os.Args) >= 7 {
			req.HostIP = os.Args[6]
		}

		resp, err := c.SetPort(context.Background(), req)
		if err != nil {
			fatal(err)
		}
		if resp.HostPortInUse {
			fmt.Fprintf(os.Stderr, "warning: host port %d appears to be in use\n", hostPort)
		}
		for _, p := range resp.Ports {
			fmt.Println(p)
		}
		return
	}

	ports, err := c.ListPorts(context.Background())
	if err != nil {
		fatal(err)
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}

func parsePort(s string) uint16 {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", s)
		os.Exit(1)
	}
	return uint16(n)
}

func cmdSecret() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: winbox secret <set|ls|rm> [name]")
		os.Exit(1)
	}
	c := daemonClient()

	switch os.Args[2] {
	case "set":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: winbox secret set <name>")
			os.Exit(1)
		}
		name := os.Args[3]
		value, err := readSecretValue(name)
		if err != nil {
			fatal(err)
		}
		if err := c.SetSecret(context.Background(), name, value); err != nil {
			fatal(err)
		}
		fmt.Printf("secret %q stored\n", name)

	case "ls":
		names, err := c.ListSecretNames(context.Background())
		if err != nil {
			fatal(err)
		}
		for _, n := range names {
			fmt.Println(n)
		}

	case "rm":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: winbox secret rm <name>")
			os.Exit(1)
		}
		if err := c.DeleteSecret(context.Background(), os.Args[3]); err != nil {
			fatal(err)
		}
		fmt.Printf("secret %q removed\n", os.Args[3])

	default:
		fmt.Fprintf(os.Stderr, "unknown secret command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// readSecretValue prompts without echo on a terminal, otherwise reads a
// line from stdin (piped input).
func readSecretValue(name string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("value for %s: ", name)
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

func cmdUpdate() {
	status, err := daemonClient().CheckUpdate(context.Background())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("image:  %s\n", status.ImageRef)
	fmt.Printf("local:  %s\n", status.LocalDigest)
	fmt.Printf("remote: %s\n", status.RemoteDigest)
	if status.UpdateAvailable {
		fmt.Println("update available: run `docker compose pull` and restart the container")
	} else {
		fmt.Println("up to date")
	}
}

func cmdDiagnostics() {
	out := fmt.Sprintf("winbox-diagnostics-%s.tar.gz", time.Now().Format("20060102-150405"))
	if len(os.Args) >= 3 {
		out = os.Args[2]
	}

	f, err := os.Create(out)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	if err := daemonClient().Diagnostics(context.Background(), f); err != nil {
		os.Remove(out)
		fatal(err)
	}
	fmt.Printf("diagnostics bundle written to %s\n", out)
}

func cmdLogs() {
	component := "daemon"
	if len(os.Args) >= 3 {
		component = os.Args[2]
	}
	entries, err := daemonClient().Logs(context.Background(), component)
	if err != nil {
		fatal(err)
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Level, e.Line)
	}
}

func cmdContainer() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: winbox container <start|stop|pause|unpause>")
		os.Exit(1)
	}
	if err := daemonClient().ContainerAction(context.Background(), os.Args[2]); err != nil {
		fatal(err)
	}
	fmt.Printf("container %s: ok\n", os.Args[2])
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	os.Exit(1)
}
