package launcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xfeldman/winbox/internal/compose"
	"github.com/xfeldman/winbox/internal/guest"
	"github.com/xfeldman/winbox/internal/runtime"
)

type fakeRuntime struct {
	mu           sync.Mutex
	status       runtime.Status
	startCalls   int
	unpauseCalls int
	startErr     error
	unpauseErr   error
}

func (f *fakeRuntime) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.status = runtime.StatusRunning
	return nil
}

func (f *fakeRuntime) Unpause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpauseCalls++
	if f.unpauseErr != nil {
		return f.unpauseErr
	}
	f.status = runtime.StatusRunning
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context) error  { return nil }
func (f *fakeRuntime) Pause(ctx context.Context) error { return nil }

func (f *fakeRuntime) Status(ctx context.Context) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

// reachableAfter returns a prober that answers true from the nth probe on.
func reachableAfter(n int) Prober {
	var mu sync.Mutex
	calls := 0
	return ProberFunc(func(ctx context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return calls >= n
	})
}

type fakeGuest struct {
	mu        sync.Mutex
	apps      []guest.App
	listErr   error
	launchErr error
	launched  []guest.App
	listCalls int
	// launchStarted is closed when Launch is entered; launchRelease gates
	// its return, modelling the long-lived remote session.
	launchStarted chan struct{}
	launchRelease chan struct{}
}

func (f *fakeGuest) ListApps(ctx context.Context) ([]guest.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.apps, nil
}

func (f *fakeGuest) Launch(ctx context.Context, app guest.App) error {
	f.mu.Lock()
	f.launched = append(f.launched, app)
	started := f.launchStarted
	release := f.launchRelease
	err := f.launchErr
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return err
}

func (f *fakeGuest) launchedApps() []guest.App {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]guest.App(nil), f.launched...)
}

func testMapper(t *testing.T, decls ...string) *compose.PortMapper {
	t.Helper()
	pd := make([]compose.PortDecl, len(decls))
	for i, d := range decls {
		pd[i] = compose.PortDecl{Short: d}
	}
	m, err := compose.NewPortMapper(pd)
	if err != nil {
		t.Fatalf("NewPortMapper: %v", err)
	}
	return m
}

func newTestLauncher(rt runtime.Runtime, m *compose.PortMapper, p Prober, g *fakeGuest, opts ...Option) (*Launcher, *int) {
	hostPort := new(int)
	base := []Option{
		WithPollInterval(10 * time.Millisecond),
		WithGrace(20 * time.Millisecond),
		WithGuestDialer(func(port int) GuestAPI {
			*hostPort = port
			return g
		}),
	}
	return New(rt, m, p, append(base, opts...)...), hostPort
}

func TestLaunch_HappyPathFromStopped(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusStopped}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{
		{Name: "Notepad", Path: `C:\Windows\notepad.exe`},
		{Name: "Word", Path: `C:\Office\WINWORD.EXE`},
	}}

	var phases []string
	l, hostPort := newTestLauncher(rt, mapper, reachableAfter(3), g,
		WithProgressFunc(func(p Progress) { phases = append(phases, p.Phase) }))

	start := time.Now()
	if err := l.Launch(context.Background(), "Notepad"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	elapsed := time.Since(start)

	// Two polling delays (reachable on the 3rd attempt) plus the grace delay.
	if min := 2*10*time.Millisecond + 20*time.Millisecond; elapsed < min {
		t.Errorf("elapsed %v, want at least %v", elapsed, min)
	}
	if rt.startCalls != 1 {
		t.Errorf("start calls = %d, want 1", rt.startCalls)
	}
	if rt.unpauseCalls != 0 {
		t.Errorf("unpause calls = %d, want 0", rt.unpauseCalls)
	}
	if *hostPort != 54321 {
		t.Errorf("resolved host port = %d, want 54321", *hostPort)
	}
	launched := g.launchedApps()
	if len(launched) != 1 || launched[0].Name != "Notepad" {
		t.Errorf("launched = %+v", launched)
	}
	if got := l.Progress().Phase; got != PhaseCompleted {
		t.Errorf("final phase = %q", got)
	}
	want := []string{PhaseIdle, PhaseStartingContainer, PhaseWaitingOnline, PhaseResolvingPort, PhaseLaunchingApp, PhaseCompleted}
	// The Idle snapshot is set before the progress callback exists for it.
	if len(phases) != len(want)-1 {
		t.Fatalf("phases = %v", phases)
	}
	for i, p := range phases {
		if p != want[i+1] {
			t.Errorf("phase[%d] = %q, want %q", i, p, want[i+1])
		}
	}
}

func TestLaunch_PausedUsesUnpause(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusPaused}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad", Path: `C:\Windows\notepad.exe`}}}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g)

	if err := l.Launch(context.Background(), "Notepad"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if rt.unpauseCalls != 1 {
		t.Errorf("unpause calls = %d, want 1", rt.unpauseCalls)
	}
	if rt.startCalls != 0 {
		t.Errorf("start calls = %d, want 0", rt.startCalls)
	}
}

func TestLaunch_RunningSkipsResume(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad"}}}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g)

	if err := l.Launch(context.Background(), "Notepad"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if rt.startCalls != 0 || rt.unpauseCalls != 0 {
		t.Errorf("start=%d unpause=%d, want 0/0", rt.startCalls, rt.unpauseCalls)
	}
}

func TestLaunch_ReachabilityTimeout(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusStopped}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad"}}}
	never := ProberFunc(func(ctx context.Context) bool { return false })
	l, _ := newTestLauncher(rt, mapper, never, g, WithOnlineAttempts(3))

	err := l.Launch(context.Background(), "Notepad")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if g.listCalls != 0 || len(g.launchedApps()) != 0 {
		t.Error("guest API reached despite reachability timeout")
	}
	if got := l.Progress().Phase; got != PhaseFailed {
		t.Errorf("final phase = %q, want failed", got)
	}
}

func TestLaunch_PortNeverResolves(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	// Dynamic host endpoint: lookup succeeds structurally but never yields
	// a concrete host port.
	mapper := testMapper(t, "0.0.0.0::7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad"}}}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g, WithResolveAttempts(3))

	err := l.Launch(context.Background(), "Notepad")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(g.launchedApps()) != 0 {
		t.Error("launch dispatched despite unresolved port")
	}
}

func TestLaunch_AppNotFound(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Word", Path: `C:\Office\WINWORD.EXE`}}}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g)

	err := l.Launch(context.Background(), "Notepad")
	if err == nil {
		t.Fatal("expected error for missing app")
	}
	if got := l.Progress().Phase; got != PhaseFailed {
		t.Errorf("final phase = %q, want failed", got)
	}
	if len(g.launchedApps()) != 0 {
		t.Error("launch dispatched despite missing app")
	}
}

func TestLaunch_MatchByPath(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad", Path: `C:\Windows\notepad.exe`}}}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g)

	if err := l.Launch(context.Background(), `c:\windows\NOTEPAD.EXE`); err != nil {
		t.Fatalf("Launch by path: %v", err)
	}
}

func TestLaunch_StartFailure(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusStopped, startErr: errors.New("dockerd down")}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{}
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g)

	err := l.Launch(context.Background(), "Notepad")
	if err == nil || !errors.Is(err, rt.startErr) {
		t.Fatalf("err = %v, want start failure", err)
	}
	if got := l.Progress().Phase; got != PhaseFailed {
		t.Errorf("final phase = %q, want failed", got)
	}
}

func TestLaunch_InFlightGuard(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad"}}}

	probing := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gate := ProberFunc(func(ctx context.Context) bool {
		once.Do(func() { close(probing) })
		select {
		case <-release:
			return true
		default:
			return false
		}
	})
	l, _ := newTestLauncher(rt, mapper, gate, g)

	done := make(chan error, 1)
	go func() { done <- l.Launch(context.Background(), "Notepad") }()
	<-probing

	if err := l.Launch(context.Background(), "Word"); !errors.Is(err, ErrLaunchInFlight) {
		t.Errorf("second launch err = %v, want ErrLaunchInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first launch: %v", err)
	}

	// Sequence finished: a new launch may begin.
	if err := l.Launch(context.Background(), "Notepad"); err != nil {
		t.Errorf("relaunch after completion: %v", err)
	}
}

func TestLaunch_Cancellation(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	g := &fakeGuest{apps: []guest.App{{Name: "Notepad"}}}
	never := ProberFunc(func(ctx context.Context) bool { return false })
	l, _ := newTestLauncher(rt, mapper, never, g)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Launch(ctx, "Notepad") }()

	time.Sleep(15 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	p := l.Progress()
	if p.Phase != PhaseCancelled || !p.Cancelled {
		t.Errorf("progress = %+v, want cancelled", p)
	}
	if len(g.launchedApps()) != 0 {
		t.Error("launch dispatched despite cancellation")
	}
}

func TestLaunch_SideChannelReportsLaunchFailure(t *testing.T) {
	rt := &fakeRuntime{status: runtime.StatusRunning}
	mapper := testMapper(t, "0.0.0.0:54321:7148/tcp")
	launchErr := errors.New("session crashed")
	g := &fakeGuest{
		apps:          []guest.App{{Name: "Notepad"}},
		launchErr:     launchErr,
		launchStarted: make(chan struct{}),
		launchRelease: make(chan struct{}),
	}

	results := make(chan error, 1)
	l, _ := newTestLauncher(rt, mapper, reachableAfter(1), g,
		WithLaunchResultFunc(func(app string, err error) { results <- err }))

	// The launch call is still blocked when the sequence completes: the
	// grace timer, not the dispatched call, drives Completed.
	if err := l.Launch(context.Background(), "Notepad"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-g.launchStarted
	select {
	case <-results:
		t.Fatal("launch result arrived before the remote session ended")
	default:
	}

	close(g.launchRelease)
	select {
	case err := <-results:
		if !errors.Is(err, launchErr) {
			t.Errorf("side channel err = %v, want %v", err, launchErr)
		}
	case <-time.After(time.Second):
		t.Fatal("side channel never reported")
	}
}
