package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Compose drives the managed container through the docker CLI against a
// compose file. Lifecycle verbs go through "docker compose" so the container
// is created from the definition on first start; status comes from
// "docker inspect" on the named container.
type Compose struct {
	composePath   string
	containerName string
	dockerBin     string
}

// NewCompose returns a runtime bound to the given compose file and
// container name.
func NewCompose(composePath, containerName string) *Compose {
	return &Compose{
		composePath:   composePath,
		containerName: containerName,
		dockerBin:     "docker",
	}
}

// Start brings the container up, creating it from the definition if needed.
func (c *Compose) Start(ctx context.Context) error {
	return c.compose(ctx, "up", "-d")
}

// Stop stops the container, honoring the definition's stop grace period.
func (c *Compose) Stop(ctx context.Context) error {
	return c.compose(ctx, "stop")
}

// Pause freezes the container's processes.
func (c *Compose) Pause(ctx context.Context) error {
	return c.compose(ctx, "pause")
}

// Unpause resumes a paused container. Calling this on a container that is
// not paused is a runtime error; callers must check Status first.
func (c *Compose) Unpause(ctx context.Context) error {
	return c.compose(ctx, "unpause")
}

// Status maps the docker inspect state to the Status enum. A container that
// does not exist yet reports stopped (starting it creates it).
func (c *Compose) Status(ctx context.Context) (Status, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, "inspect", "-f", "{{.State.Status}}", c.containerName)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "No such object") ||
			strings.Contains(stderr.String(), "No such container") {
			return StatusStopped, nil
		}
		return StatusUnknown, fmt.Errorf("docker inspect %s: %w: %s", c.containerName, err, strings.TrimSpace(stderr.String()))
	}
	return parseDockerState(strings.TrimSpace(stdout.String())), nil
}

// parseDockerState maps docker's state strings onto the Status enum.
func parseDockerState(state string) Status {
	switch state {
	case "running":
		return StatusRunning
	case "paused":
		return StatusPaused
	case "created", "exited":
		return StatusStopped
	case "restarting":
		return StatusStarting
	case "removing":
		return StatusStopped
	case "dead":
		return StatusError
	default:
		return StatusUnknown
	}
}

func (c *Compose) compose(ctx context.Context, args ...string) error {
	full := append([]string{"compose", "-f", c.composePath}, args...)
	cmd := exec.CommandContext(ctx, c.dockerBin, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker compose %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
