// Package launcher drives the launch sequence for a guest application.
//
// Phase transitions:
//
//	Idle → StartingContainer → WaitingOnline → ResolvingPort → LaunchingApp → Completed
//
// Cancelled is reachable from every non-terminal phase. Failed is terminal
// for the call; the caller may re-invoke after the reason is surfaced.
// Reaching Completed means the launch request was dispatched and the grace
// period elapsed, not that the remote session succeeded.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/xfeldman/winbox/internal/compose"
	"github.com/xfeldman/winbox/internal/guest"
	"github.com/xfeldman/winbox/internal/runtime"
)

// ErrLaunchInFlight is returned when a launch is requested while another
// launch sequence is still active. Overlapping requests are a caller error.
var ErrLaunchInFlight = errors.New("launch already in flight")

// ErrTimeout is returned when a polling bound is exhausted.
var ErrTimeout = errors.New("timed out")

// Launch phases.
const (
	PhaseIdle              = "idle"
	PhaseStartingContainer = "starting-container"
	PhaseWaitingOnline     = "waiting-online"
	PhaseResolvingPort     = "resolving-port"
	PhaseLaunchingApp      = "launching-app"
	PhaseCompleted         = "completed"
	PhaseFailed            = "failed"
	PhaseCancelled         = "cancelled"
)

// Progress is the launch state exposed to callers. It is a snapshot: the
// launcher mutates its own copy and hands out values.
type Progress struct {
	Phase     string `json:"phase"`
	TargetApp string `json:"target_app"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// Prober answers whether the guest is reachable right now. Probe failures
// of any kind mean "not yet"; the launcher only polls.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// GuestAPI is the slice of the guest client the launcher needs.
type GuestAPI interface {
	ListApps(ctx context.Context) ([]guest.App, error)
	Launch(ctx context.Context, app guest.App) error
}

// Launcher sequences container startup, reachability polling, port
// resolution, and app dispatch into one launch call. It drives at most one
// sequence at a time; concurrent requests fail with ErrLaunchInFlight.
type Launcher struct {
	rt     runtime.Runtime
	mapper *compose.PortMapper
	prober Prober

	guestFor func(hostPort int) GuestAPI

	guestAPIPort    uint16
	pollInterval    time.Duration
	onlineAttempts  int
	resolveAttempts int
	grace           time.Duration

	onProgress     func(Progress)
	onLaunchResult func(app string, err error)

	mu       sync.Mutex
	inFlight bool
	progress Progress
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithPollInterval overrides the 1s polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Launcher) { l.pollInterval = d }
}

// WithOnlineAttempts overrides the reachability attempt bound.
func WithOnlineAttempts(n int) Option {
	return func(l *Launcher) { l.onlineAttempts = n }
}

// WithResolveAttempts overrides the port-resolution attempt bound.
func WithResolveAttempts(n int) Option {
	return func(l *Launcher) { l.resolveAttempts = n }
}

// WithGrace overrides the post-dispatch grace delay before Completed.
func WithGrace(d time.Duration) Option {
	return func(l *Launcher) { l.grace = d }
}

// WithGuestAPIPort overrides the guest-side API port to resolve.
func WithGuestAPIPort(port uint16) Option {
	return func(l *Launcher) { l.guestAPIPort = port }
}

// WithGuestDialer overrides how a guest client is built from the resolved
// host port.
func WithGuestDialer(fn func(hostPort int) GuestAPI) Option {
	return func(l *Launcher) { l.guestFor = fn }
}

// WithProgressFunc registers a callback invoked on every phase change.
func WithProgressFunc(fn func(Progress)) Option {
	return func(l *Launcher) { l.onProgress = fn }
}

// WithLaunchResultFunc registers the side channel for the dispatched launch
// call's eventual outcome. The call legitimately blocks until the remote
// session ends, so its result arrives long after Completed.
func WithLaunchResultFunc(fn func(app string, err error)) Option {
	return func(l *Launcher) { l.onLaunchResult = fn }
}

// New creates a launcher over the given runtime, port mapper, and
// reachability prober.
func New(rt runtime.Runtime, mapper *compose.PortMapper, prober Prober, opts ...Option) *Launcher {
	l := &Launcher{
		rt:              rt,
		mapper:          mapper,
		prober:          prober,
		guestAPIPort:    guest.APIPort,
		pollInterval:    time.Second,
		onlineAttempts:  60,
		resolveAttempts: 30,
		grace:           3 * time.Second,
		guestFor: func(hostPort int) GuestAPI {
			return guest.NewClient(hostPort)
		},
		progress: Progress{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Progress returns the current launch progress snapshot.
func (l *Launcher) Progress() Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// InFlight reports whether a launch sequence is currently active.
func (l *Launcher) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Launch runs the full sequence for the named app synchronously and returns
// its terminal outcome. Cancel via ctx: cancellation is checked between poll
// iterations and never rolls back runtime state already changed (a container
// that was started stays started).
func (l *Launcher) Launch(ctx context.Context, targetApp string) error {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		return ErrLaunchInFlight
	}
	l.inFlight = true
	l.progress = Progress{Phase: PhaseIdle, TargetApp: targetApp}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inFlight = false
		l.mu.Unlock()
	}()

	err := l.run(ctx, targetApp)
	switch {
	case err == nil:
		l.setPhase(PhaseCompleted, "")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		l.setCancelled(err.Error())
	default:
		l.setPhase(PhaseFailed, err.Error())
	}
	return err
}

func (l *Launcher) run(ctx context.Context, targetApp string) error {
	// StartingContainer
	l.setPhase(PhaseStartingContainer, "")
	status, err := l.rt.Status(ctx)
	if err != nil {
		return fmt.Errorf("container status: %w", err)
	}
	switch status {
	case runtime.StatusRunning:
		// already up
	case runtime.StatusPaused:
		log.Printf("launch %s: container paused, unpausing", targetApp)
		if err := l.rt.Unpause(ctx); err != nil {
			return fmt.Errorf("unpause container: %w", err)
		}
	default:
		// stopped, or any state we cannot resume from in place
		log.Printf("launch %s: container %s, starting", targetApp, status)
		if err := l.rt.Start(ctx); err != nil {
			return fmt.Errorf("start container: %w", err)
		}
	}

	// WaitingOnline
	l.setPhase(PhaseWaitingOnline, "")
	if err := l.poll(ctx, l.onlineAttempts, func() bool {
		return l.prober.Probe(ctx)
	}); err != nil {
		return fmt.Errorf("guest never became reachable: %w", err)
	}

	// ResolvingPort
	l.setPhase(PhaseResolvingPort, "")
	var hostPort int
	if err := l.poll(ctx, l.resolveAttempts, func() bool {
		spec, ok := l.mapper.Lookup(l.guestAPIPort, compose.ProtocolTCP)
		if !ok || spec.Host == nil || !spec.Host.Single() {
			return false
		}
		hostPort = int(spec.Host.Start)
		return true
	}); err != nil {
		return fmt.Errorf("resolve host port for guest port %d: %w", l.guestAPIPort, err)
	}

	// LaunchingApp
	l.setPhase(PhaseLaunchingApp, "")
	api := l.guestFor(hostPort)
	apps, err := api.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	app, ok := matchApp(apps, targetApp)
	if !ok {
		return fmt.Errorf("app %q not found in guest", targetApp)
	}

	// Dispatch fire-and-forget: the call resolves when the remote session
	// ends, which must not gate the grace timer below. Its outcome goes out
	// the side channel.
	go func() {
		err := api.Launch(context.Background(), app)
		if err != nil {
			log.Printf("launch %s: dispatched call failed: %v", app.Name, err)
		}
		if l.onLaunchResult != nil {
			l.onLaunchResult(app.Name, err)
		}
	}()

	// Grace delay lets the remote window surface before progress dismisses.
	timer := time.NewTimer(l.grace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poll runs fn up to attempts times at the fixed poll interval. Fixed
// bounds, no backoff. Returns ErrTimeout on exhaustion, ctx.Err() on
// cancellation between iterations.
func (l *Launcher) poll(ctx context.Context, attempts int, fn func() bool) error {
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fn() {
			return nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
}

// matchApp finds the target among enumerated apps by name or by path,
// case-insensitively.
func matchApp(apps []guest.App, target string) (guest.App, bool) {
	for _, a := range apps {
		if strings.EqualFold(a.Name, target) || strings.EqualFold(a.Path, target) {
			return a, true
		}
	}
	return guest.App{}, false
}

func (l *Launcher) setPhase(phase, reason string) {
	l.mu.Lock()
	l.progress.Phase = phase
	l.progress.Reason = reason
	p := l.progress
	l.mu.Unlock()
	if l.onProgress != nil {
		l.onProgress(p)
	}
}

func (l *Launcher) setCancelled(reason string) {
	l.mu.Lock()
	l.progress.Phase = PhaseCancelled
	l.progress.Cancelled = true
	l.progress.Reason = reason
	p := l.progress
	l.mu.Unlock()
	if l.onProgress != nil {
		l.onProgress(p)
	}
}
