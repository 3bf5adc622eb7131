package runtime

import "testing"

func TestParseDockerState(t *testing.T) {
	cases := map[string]Status{
		"running":    StatusRunning,
		"paused":     StatusPaused,
		"created":    StatusStopped,
		"exited":     StatusStopped,
		"restarting": StatusStarting,
		"removing":   StatusStopped,
		"dead":       StatusError,
		"":           StatusUnknown,
		"weird":      StatusUnknown,
	}
	for state, want := range cases {
		if got := parseDockerState(state); got != want {
			t.Errorf("parseDockerState(%q) = %q, want %q", state, got, want)
		}
	}
}
