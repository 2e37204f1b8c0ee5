// Package health defines the probe result shared by all dependency clients.
package health

// ProbeResult is the outcome of a single dependency health probe.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
