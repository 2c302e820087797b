package connect

import "time"

const (
	SessionServiceName = "demoday.v1.SessionService"
	AdminServiceName   = "demoday.v1.AdminService"

	SessionServiceAcquireProcedure        = "/" + SessionServiceName + "/Acquire"
	SessionServiceReleaseProcedure        = "/" + SessionServiceName + "/Release"
	SessionServiceGetQueueStatusProcedure = "/" + SessionServiceName + "/GetQueueStatus"

	AdminServiceGetStatusProcedure    = "/" + AdminServiceName + "/GetStatus"
	AdminServiceSweepProcedure        = "/" + AdminServiceName + "/Sweep"
	AdminServiceForceReleaseProcedure = "/" + AdminServiceName + "/ForceRelease"
	AdminServiceWatchEventsProcedure  = "/" + AdminServiceName + "/WatchEvents"
)

type AcquireRequest struct {
	Type string `json:"type"`
}

type AcquireResponse struct {
	SessionToken string `json:"session_token"`
	AgentID      string `json:"agent_id"`
	SlotID       string `json:"slot_id"`
}

type ReleaseRequest struct {
	SlotID string `json:"slot_id"`
}

type ReleaseResponse struct {
	Success bool `json:"success"`
}

type GetQueueStatusRequest struct{}

type QueueStatus struct {
	ActiveCount   int32 `json:"active_count"`
	QueueLength   int32 `json:"queue_length"`
	MaxConcurrent int32 `json:"max_concurrent"`
}

type GetQueueStatusResponse struct {
	Status QueueStatus `json:"status"`
}

type GetStatusRequest struct{}

// SlotInfo describes a granted slot.
type SlotInfo struct {
	SlotID      string    `json:"slot_id"`
	Type        string    `json:"type"`
	GrantedAt   time.Time `json:"granted_at"`
	HeldSeconds int64     `json:"held_seconds"`
}

type GetStatusResponse struct {
	Status      QueueStatus `json:"status"`
	ActiveSlots []SlotInfo  `json:"active_slots"`
}

type SweepRequest struct{}

type SweepResponse struct {
	ReleasedLeases []string `json:"released_leases"`
	SweptWaiting   int32    `json:"swept_waiting"`
}

type ForceReleaseRequest struct {
	SlotID string `json:"slot_id"`
}

type ForceReleaseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WatchEventsRequest struct{}

// SessionEvent is one entry of the admin event stream.
type SessionEvent struct {
	SequenceNo int64       `json:"sequence_no"`
	Kind       string      `json:"kind"`
	SlotID     string      `json:"slot_id,omitempty"`
	Type       string      `json:"type,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Status     QueueStatus `json:"status"`
	At         time.Time   `json:"at"`
}
