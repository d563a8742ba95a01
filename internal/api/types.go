package api

import (
	"encoding/json"

	"github.com/portenta/image-processing-ioc/internal/pv"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State      string                   `json:"state"` // ok | degraded | unknown
	PVCount    int                      `json:"pv_count"`
	AlarmCount int                      `json:"alarm_count"`
	Channels   map[string]ChannelStatus `json:"channels"`
}

// ChannelStatus is the outcome of the last path update on one channel.
type ChannelStatus struct {
	Status    string `json:"status"` // analyzed | skipped | idle
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"` // RFC3339
}

// PutRequest is the body of PUT /api/v1/pvs/{name}.
type PutRequest struct {
	Value json.RawMessage `json:"value"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// WebSocket snapshot events.
type SnapshotResponse struct {
	PVs         []pv.Record              `json:"pvs"`
	Channels    map[string]ChannelStatus `json:"channels"`
	GeneratedAt string                   `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
