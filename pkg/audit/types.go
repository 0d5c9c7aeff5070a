// Package audit records security-relevant events for the portal.
//
// Role edits, override grants and denials, and access decisions all flow
// through the audit Logger so tenant admins can answer "who changed what,
// and when" during a compliance review.
package audit

import "time"

// EventType classifies an audit event
type EventType string

const (
	// Role lifecycle
	EventRoleCreated             EventType = "role.created"
	EventRoleUpdated             EventType = "role.updated"
	EventRoleDeleted             EventType = "role.deleted"
	EventRolePermissionsReplaced EventType = "role.permissions_replaced"
	EventRoleAssigned            EventType = "role.assigned"
	EventRoleRevoked             EventType = "role.revoked"

	// Override lifecycle
	EventOverrideCreated EventType = "override.created"
	EventOverrideDeleted EventType = "override.deleted"
	EventOverrideExpired EventType = "override.expired"

	// Access decisions
	EventAccessGranted EventType = "access.granted"
	EventAccessDenied  EventType = "access.denied"

	// Tenant lifecycle
	EventTenantCreated   EventType = "tenant.created"
	EventTenantSuspended EventType = "tenant.suspended"
)

// EventStatus indicates the outcome of the audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit record
type Event struct {
	ID        int64                  `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Status    EventStatus            `json:"status"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
	TargetID  string                 `json:"target_id,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
