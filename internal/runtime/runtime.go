// Package runtime defines the container runtime interface the launcher
// drives. The runtime is an external collaborator: errors are opaque
// failure signals, never interpreted beyond "the step failed".
package runtime

import "context"

// Status is the container power state as reported by the runtime.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusPausing   Status = "pausing"
	StatusPaused    Status = "paused"
	StatusUnpausing Status = "unpausing"
	StatusError     Status = "error"
	StatusUnknown   Status = "unknown"
)

// Runtime provides the container lifecycle primitives.
//
// Paused and stopped require different resume calls: unpausing a stopped
// container or starting a paused one is a runtime error. Callers must branch
// on Status, never guess.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}
