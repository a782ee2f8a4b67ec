package api

import "time"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Connection       string     `json:"connection"`
	RecoveryPending  bool       `json:"recovery_pending"`
	Maintenance      bool       `json:"maintenance"`
	MaintenanceUntil *time.Time `json:"maintenance_until,omitempty"`
	Buffered         int        `json:"buffered"`
	Dropped          int64      `json:"dropped"`
	Debug            bool       `json:"debug"`
	UptimeSeconds    int64      `json:"uptime_seconds"`
	LastEventID      int64      `json:"last_event_id"`
}

// DebugResponse is returned by POST /debug/{state}.
type DebugResponse struct {
	Debug bool `json:"debug"`
}
