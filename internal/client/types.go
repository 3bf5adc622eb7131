package client

import "fmt"

// APIError is a structured error from the winboxd API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("winboxd: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("winboxd: status %d", e.StatusCode)
}

// LaunchProgress mirrors the daemon's launch progress snapshot.
type LaunchProgress struct {
	Phase     string `json:"phase"`
	TargetApp string `json:"target_app"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// Status mirrors GET /v1/status.
type Status struct {
	Daemon         string         `json:"daemon"`
	Container      string         `json:"container"`
	GuestReachable bool           `json:"guest_reachable"`
	Launch         LaunchProgress `json:"launch"`
}

// App mirrors one entry of GET /v1/apps.
type App struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Source     string `json:"source,omitempty"`
	Icon       string `json:"icon,omitempty"`
	UsageCount int    `json:"usage_count"`
	Live       bool   `json:"live"`
}

// SetPortRequest mirrors PUT /v1/ports.
type SetPortRequest struct {
	GuestPort uint16 `json:"guest_port"`
	HostPort  uint16 `json:"host_port"`
	Protocol  string `json:"protocol,omitempty"`
	HostIP    string `json:"host_ip,omitempty"`
}

// SetPortResponse mirrors the PUT /v1/ports response.
type SetPortResponse struct {
	Ports         []string `json:"ports"`
	HostPortInUse bool     `json:"host_port_in_use"`
}

// Metrics mirrors GET /v1/metrics.
type Metrics struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	DiskUsed   int64   `json:"disk_used"`
	DiskTotal  int64   `json:"disk_total"`
	UptimeSecs int64   `json:"uptime_secs"`
}

// RDPInfo mirrors GET /v1/rdp.
type RDPInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// UpdateStatus mirrors GET /v1/update.
type UpdateStatus struct {
	ImageRef        string `json:"image_ref"`
	RemoteDigest    string `json:"remote_digest"`
	LocalDigest     string `json:"local_digest,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// LogEntry mirrors one entry of GET /v1/logs/:component.
type LogEntry struct {
	Timestamp string `json:"ts"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Line      string `json:"line"`
}
