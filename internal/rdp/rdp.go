// Package rdp builds and runs FreeRDP invocations against the container's
// mapped RDP port. Apps run as RemoteApp sessions so each launched program
// gets its own window instead of a full desktop.
package rdp

import (
	"context"
	"fmt"
	"log"
	"os/exec"
)

// Session describes one FreeRDP invocation.
type Session struct {
	Host     string
	Port     int
	Username string
	Password string

	// AppPath selects RemoteApp mode. Empty means a full desktop session.
	AppPath string
	AppName string

	Clipboard bool
	Sound     bool
	Multimon  bool
	Scale     int // 100, 140, or 180; 0 = default
}

// ClientBin is the FreeRDP binary name, overridable through configuration
// for distributions that ship xfreerdp3.
const ClientBin = "xfreerdp"

// Args renders the FreeRDP command line. Credentials are passed as
// arguments, which is how FreeRDP accepts them; the daemon never logs them.
func (s *Session) Args() []string {
	args := []string{
		fmt.Sprintf("/v:%s:%d", s.Host, s.Port),
		fmt.Sprintf("/u:%s", s.Username),
		fmt.Sprintf("/p:%s", s.Password),
		"/cert:ignore",
		"+auto-reconnect",
		"-wallpaper",
	}
	if s.Clipboard {
		args = append(args, "+clipboard")
	}
	if s.Sound {
		args = append(args, "/sound")
	}
	if s.Multimon {
		args = append(args, "/multimon")
	}
	if s.Scale != 0 {
		args = append(args, fmt.Sprintf("/scale:%d", s.Scale))
	}
	if s.AppPath != "" {
		app := fmt.Sprintf("/app:program:%s", s.AppPath)
		if s.AppName != "" {
			app += fmt.Sprintf(",name:%s", s.AppName)
		}
		args = append(args, app)
	} else {
		args = append(args, "/dynamic-resolution")
	}
	return args
}

// Launcher starts FreeRDP processes.
type Launcher struct {
	bin string
}

// NewLauncher returns a launcher using the given binary, or ClientBin when
// empty.
func NewLauncher(bin string) *Launcher {
	if bin == "" {
		bin = ClientBin
	}
	return &Launcher{bin: bin}
}

// Start launches the FreeRDP client detached from the daemon. The session
// is the user's to close; only startup failures are reported.
func (l *Launcher) Start(ctx context.Context, s *Session) error {
	cmd := exec.CommandContext(ctx, l.bin, s.Args()...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.bin, err)
	}
	log.Printf("rdp: %s session to %s:%d started (pid %d)", l.bin, s.Host, s.Port, cmd.Process.Pid)

	// Reap the process when it exits so it never lingers as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("rdp: session to %s:%d ended: %v", s.Host, s.Port, err)
		}
	}()
	return nil
}
