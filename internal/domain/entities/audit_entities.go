package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names an audited wallet-engine event
type AuditAction string

const (
	AuditActionDepositCredited AuditAction = "deposit_credited"
	AuditActionSweepCompleted  AuditAction = "sweep_completed"
	AuditActionAddressAssigned AuditAction = "deposit_address_assigned"
)

type AuditEvent struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	UserID     *uuid.UUID             `json:"userId,omitempty" db:"user_id"`
	Action     AuditAction            `json:"action" db:"action"`
	Resource   string                 `json:"resource" db:"resource"`
	ResourceID string                 `json:"resourceId,omitempty" db:"resource_id"`
	Details    map[string]interface{} `json:"details" db:"-"`
	CreatedAt  time.Time              `json:"createdAt" db:"created_at"`
}
