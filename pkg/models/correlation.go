package models

import "time"

// ConflictReason is the contradictory-evidence code attached to a Conflict.
type ConflictReason string

const (
	ConflictReasonMACMismatch ConflictReason = "mac_mismatch"
)

// ConflictStatus is the resolution state of a Conflict.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

// ResolutionMethod records how a Conflict was closed.
type ResolutionMethod string

const (
	ResolutionManual      ResolutionMethod = "manual"
	ResolutionManualMerge ResolutionMethod = "manual_merge"
	ResolutionAutoStale   ResolutionMethod = "auto_stale"
)

// MergeMethod names the rule that produced a merge.
type MergeMethod string

const (
	MergeIPConsolidation MergeMethod = "ip_consolidation"
	MergeMACDuplicate    MergeMethod = "mac_duplicate"
	MergeTag             MergeMethod = "tag_merge"
	MergeManual          MergeMethod = "manual_merge"
)

// Conflict records an automatic merge that was rejected because of
// contradictory strong evidence.
type Conflict struct {
	ID               string           `json:"id"`
	HostGUIDs        []string         `json:"host_guids"`
	Reason           ConflictReason   `json:"reason"`
	MatchKey         string           `json:"match_key"`
	DetectedAt       time.Time        `json:"detected_at"`
	Status           ConflictStatus   `json:"status"`
	Resolution       string           `json:"resolution,omitempty"`
	ResolutionMethod ResolutionMethod `json:"resolution_method,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// IsResolved returns true if the conflict has been closed.
func (c *Conflict) IsResolved() bool {
	return c.Status == ConflictResolved
}

// DeviceIdentity groups host GUIDs believed to be one multi-homed physical
// device. Member hosts keep their own rows.
type DeviceIdentity struct {
	ID          string    `json:"id"`
	MACAddress  string    `json:"mac_address"`
	MemberGUIDs []string  `json:"member_guids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MergeEvent is the audit record written for every donor merged away.
type MergeEvent struct {
	ID           string      `json:"id"`
	SurvivorGUID string      `json:"survivor_guid"`
	DonorGUID    string      `json:"donor_guid"`
	Method       MergeMethod `json:"method"`
	MatchKey     string      `json:"match_key,omitempty"`
	Actor        string      `json:"actor"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PhaseStats summarises the work done by one correlation phase.
type PhaseStats struct {
	Name     string `json:"name"`
	Groups   int    `json:"groups"`
	Merged   int    `json:"merged"`
	Errors   int    `json:"errors"`
	Duration string `json:"duration"`
}

// RunStatus is the terminal state of a correlation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunDegraded  RunStatus = "degraded"
)

// CorrelationResult is the summary returned by every correlation run, even a
// partially degraded one.
type CorrelationResult struct {
	RunID                   string       `json:"run_id"`
	Status                  RunStatus    `json:"status"`
	StartedAt               time.Time    `json:"started_at"`
	FinishedAt              time.Time    `json:"finished_at"`
	HostsMerged             int          `json:"hosts_merged"`
	ConflictsDetected       int          `json:"conflicts_detected"`
	DeviceIdentitiesCreated int          `json:"device_identities_created"`
	ConflictsAutoResolved   int          `json:"conflicts_auto_resolved"`
	Phases                  []PhaseStats `json:"phases"`
	Errors                  []string     `json:"errors"`
}

// UnifiedHostView is a read-only aggregation of a host and the sibling hosts
// linked to it through device identities.
type UnifiedHostView struct {
	Host          Host             `json:"host"`
	LinkedDevices []Host           `json:"linked_devices"`
	Identities    []DeviceIdentity `json:"identities"`
}
